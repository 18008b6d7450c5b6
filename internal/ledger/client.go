// Package ledger anchors record metadata and access decisions on a
// Hyperledger Fabric network. The client wraps the gateway connection with
// an explicit connection state machine and bounded retries, so a ledger
// outage degrades the system instead of hanging it.
package ledger

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/logging"
)

// ContractAPI is the transaction surface of the deployed chaincode.
// Implemented by the fabric-gateway adapter in gateway.go; tests use fakes.
type ContractAPI interface {
	// Submit sends an ordered, committed transaction and returns its id and
	// result payload.
	Submit(ctx context.Context, name string, args ...string) (txID string, payload []byte, err error)
	// Evaluate runs a read-only query against a single peer.
	Evaluate(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Dialer establishes a contract connection. The returned closer tears down
// the underlying transport.
type Dialer func(ctx context.Context) (ContractAPI, io.Closer, error)

// Result is the outcome of a single ledger operation after retries.
type Result struct {
	Success bool
	TxID    string
	Data    []byte
	Err     error
}

// InitResult reports the outcome of the connectivity probe.
type InitResult struct {
	Success   bool
	Timestamp time.Time
	Err       error
}

// Client is the consensus ledger client. Safe for concurrent use.
type Client struct {
	dial   Dialer
	policy RetryPolicy
	logger logging.Logger

	mu       sync.Mutex
	state    State
	contract ContractAPI
	closer   io.Closer
}

// NewClient builds a ledger client over the given dialer. The client starts
// disconnected and connects lazily on first use.
func NewClient(dial Dialer, policy RetryPolicy, logger logging.Logger) (*Client, error) {
	if dial == nil {
		return nil, fmt.Errorf("dialer is required: %w", common.ErrValidation)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{dial: dial, policy: policy, logger: logger, state: StateDisconnected}, nil
}

// Status returns the current connection state without touching the network.
func (c *Client) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionStatus is a point-in-time snapshot for health checks.
type ConnectionStatus struct {
	State       State
	Connected   bool
	HasContract bool
	MaxRetries  uint64
	RetryDelay  time.Duration
}

// ConnectionStatus reports connection details without touching the network.
func (c *Client) ConnectionStatus() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionStatus{
		State:       c.state,
		Connected:   c.state == StateConnected,
		HasContract: c.contract != nil,
		MaxRetries:  c.policy.MaxRetries,
		RetryDelay:  c.policy.Delay,
	}
}

// Initialize dials the network and probes the deployed contract. A failed
// probe leaves the client disconnected; callers decide whether to run
// degraded or abort.
func (c *Client) Initialize(ctx context.Context) *InitResult {
	contract, err := c.ensureConnected(ctx)
	if err != nil {
		return &InitResult{Err: err}
	}
	if _, err := contract.Evaluate(ctx, "GetContractInfo"); err != nil {
		c.markDisconnected()
		return &InitResult{Err: fmt.Errorf("contract probe: %w", common.ErrConnection)}
	}
	return &InitResult{Success: true, Timestamp: time.Now()}
}

// Reset tears down the connection and returns the client to the
// disconnected state. The next operation reconnects.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// Close releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	return nil
}

func (c *Client) teardownLocked() {
	if c.closer != nil {
		_ = c.closer.Close()
	}
	c.contract = nil
	c.closer = nil
	c.state = StateDisconnected
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Client) ensureConnected(ctx context.Context) (ContractAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnected && c.contract != nil {
		return c.contract, nil
	}

	c.state = StateConnecting
	contract, closer, err := c.dial(ctx)
	if err != nil {
		c.state = StateDisconnected
		return nil, fmt.Errorf("dialing ledger: %w: %v", common.ErrConnection, err)
	}
	c.contract = contract
	c.closer = closer
	c.state = StateConnected
	connectsTotal.Inc()
	c.logger.Info(ctx, "ledger connected")
	return contract, nil
}

// SubmitTransaction submits a state-changing transaction, retrying per the
// policy. Every failure resets the connection so the next attempt redials.
// The returned result always carries either a transaction id or an error.
func (c *Client) SubmitTransaction(ctx context.Context, name string, args ...string) *Result {
	var txID string
	var payload []byte

	err := retry.Do(ctx, c.policy.backoff(), func(ctx context.Context) error {
		contract, err := c.ensureConnected(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		txID, payload, err = contract.Submit(ctx, name, args...)
		if err != nil {
			c.markDisconnected()
			c.logger.Warn(ctx, "ledger submit failed", "function", name, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	submitsTotal.WithLabelValues(name, outcomeLabel(err)).Inc()
	if err != nil {
		return &Result{Err: fmt.Errorf("submit %s: %w: %v", name, common.ErrConnection, err)}
	}
	return &Result{Success: true, TxID: txID, Data: payload}
}

// EvaluateTransaction runs a read-only query, retrying per the policy.
func (c *Client) EvaluateTransaction(ctx context.Context, name string, args ...string) *Result {
	var payload []byte

	err := retry.Do(ctx, c.policy.backoff(), func(ctx context.Context) error {
		contract, err := c.ensureConnected(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		payload, err = contract.Evaluate(ctx, name, args...)
		if err != nil {
			c.markDisconnected()
			c.logger.Warn(ctx, "ledger evaluate failed", "function", name, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	evaluatesTotal.WithLabelValues(name, outcomeLabel(err)).Inc()
	if err != nil {
		return &Result{Err: fmt.Errorf("evaluate %s: %w: %v", name, common.ErrConnection, err)}
	}
	return &Result{Success: true, Data: payload}
}
