package ledger

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// GatewayConfig locates the Fabric network and the identity used to sign
// transactions.
type GatewayConfig struct {
	Endpoint           string
	MSPID              string
	CertPath           string
	KeyPath            string
	TLSCertPath        string // empty disables transport security
	ServerNameOverride string
	Channel            string
	Chaincode          string
	Timeout            time.Duration
}

// NewGatewayDialer returns a Dialer that connects through the Fabric
// gateway. The dialer owns the grpc connection; the returned closer shuts
// down both the gateway session and the connection.
func NewGatewayDialer(cfg GatewayConfig) Dialer {
	return func(ctx context.Context) (ContractAPI, io.Closer, error) {
		id, err := loadIdentity(cfg.MSPID, cfg.CertPath)
		if err != nil {
			return nil, nil, err
		}
		sign, err := loadSigner(cfg.KeyPath)
		if err != nil {
			return nil, nil, err
		}

		var transport grpc.DialOption
		if cfg.TLSCertPath != "" {
			creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, cfg.ServerNameOverride)
			if err != nil {
				return nil, nil, fmt.Errorf("loading tls certificate: %w", err)
			}
			transport = grpc.WithTransportCredentials(creds)
		} else {
			transport = grpc.WithTransportCredentials(insecure.NewCredentials())
		}

		conn, err := grpc.NewClient(cfg.Endpoint, transport)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to %s: %w", cfg.Endpoint, err)
		}

		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		gw, err := client.Connect(id,
			client.WithSign(sign),
			client.WithClientConnection(conn),
			client.WithEvaluateTimeout(timeout),
			client.WithEndorseTimeout(timeout),
			client.WithSubmitTimeout(timeout),
			client.WithCommitStatusTimeout(timeout),
		)
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("connecting gateway: %w", err)
		}

		contract := gw.GetNetwork(cfg.Channel).GetContract(cfg.Chaincode)
		return &fabricContract{contract: contract}, &gatewayCloser{gw: gw, conn: conn}, nil
	}
}

func loadIdentity(mspID, certPath string) (*identity.X509Identity, error) {
	pem, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("reading certificate: %w", err)
	}
	cert, err := identity.CertificateFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return identity.NewX509Identity(mspID, cert)
}

func loadSigner(keyPath string) (identity.Sign, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return identity.NewPrivateKeySign(key)
}

type fabricContract struct {
	contract *client.Contract
}

func (f *fabricContract) Submit(ctx context.Context, name string, args ...string) (string, []byte, error) {
	proposal, err := f.contract.NewProposal(name, client.WithArguments(args...))
	if err != nil {
		return "", nil, fmt.Errorf("building proposal for %s: %w", name, err)
	}
	txn, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("endorsing %s: %w", name, err)
	}
	commit, err := txn.SubmitWithContext(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("submitting %s: %w", name, err)
	}
	status, err := commit.StatusWithContext(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("awaiting commit of %s: %w", name, err)
	}
	if !status.Successful {
		return "", nil, fmt.Errorf("transaction %s failed with status %d", status.TransactionID, int32(status.Code))
	}
	return status.TransactionID, txn.Result(), nil
}

func (f *fabricContract) Evaluate(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f.contract.EvaluateWithContext(ctx, name, client.WithArguments(args...))
}

type gatewayCloser struct {
	gw   *client.Gateway
	conn *grpc.ClientConn
}

func (g *gatewayCloser) Close() error {
	_ = g.gw.Close()
	return g.conn.Close()
}
