// Package server wires the record core together: database, key custodian,
// content store, ledger client, search index and the record service, plus
// the metrics endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/contentstore"
	"github.com/medledger/medledger/internal/cryptox"
	"github.com/medledger/medledger/internal/keycustody"
	"github.com/medledger/medledger/internal/ledger"
	"github.com/medledger/medledger/internal/logging"
	"github.com/medledger/medledger/internal/search"
	"github.com/medledger/medledger/internal/server/config"
	"github.com/medledger/medledger/internal/server/repositories/repomanager"
	"github.com/medledger/medledger/internal/server/services"
)

// App owns the wired components and their lifecycle.
type App struct {
	config *config.Config
	logger logging.Logger

	db        *sql.DB
	custodian *keycustody.Custodian
	ledger    *ledger.Client
	service   *services.RecordService
}

// NewApp builds an app from configuration.
func NewApp(cfg *config.Config) *App {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	return &App{config: cfg, logger: logger}
}

// Service exposes the record service for embedding callers (the ops CLI).
func (a *App) Service() *services.RecordService { return a.service }

// LedgerStatus reports the ledger connection state without touching the
// network.
func (a *App) LedgerStatus() ledger.State { return a.ledger.Status() }

// Bootstrap connects every subsystem. A ledger outage is survivable and only
// logged; everything else is fatal.
func (a *App) Bootstrap(ctx context.Context) error {
	if a.config.MasterKeyPassphrase == "" {
		return fmt.Errorf("master key passphrase is not configured: %w", common.ErrValidation)
	}

	db, err := sql.Open("pgx", a.config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	masterKey := cryptox.DeriveMasterKey(
		[]byte(a.config.MasterKeyPassphrase), []byte(a.config.MasterKeySalt))
	custodian, err := keycustody.NewCustodian(masterKey, a.config.MasterKeyID, repos.DataKeys(db), a.logger)
	if err != nil {
		return err
	}
	common.WipeByteArray(masterKey)
	a.custodian = custodian

	s3Client, err := contentstore.NewS3Client(ctx,
		a.config.S3BaseEndpoint, a.config.S3Region, a.config.S3AccessKey, a.config.S3SecretKey)
	if err != nil {
		return err
	}
	store, err := contentstore.NewClient(s3Client, a.config.S3Bucket, custodian.FallbackContentKey(), a.logger)
	if err != nil {
		return err
	}

	dialer := ledger.NewGatewayDialer(ledger.GatewayConfig{
		Endpoint:           a.config.LedgerEndpoint,
		MSPID:              a.config.LedgerMSPID,
		CertPath:           a.config.LedgerCert,
		KeyPath:            a.config.LedgerKey,
		TLSCertPath:        a.config.LedgerTLSCert,
		ServerNameOverride: a.config.LedgerServerNameOverride,
		Channel:            a.config.LedgerChannel,
		Chaincode:          a.config.LedgerChaincode,
		Timeout:            a.config.LedgerTimeout,
	})
	lc, err := ledger.NewClient(dialer, ledger.RetryPolicy{
		MaxRetries:  a.config.LedgerMaxRetries,
		Delay:       a.config.LedgerRetryDelay,
		Exponential: a.config.LedgerRetryExponential,
	}, a.logger)
	if err != nil {
		return err
	}
	a.ledger = lc

	if res := lc.Initialize(ctx); !res.Success {
		a.logger.Warn(ctx, "ledger unreachable, starting degraded", "error", res.Err)
	} else {
		a.logger.Info(ctx, "ledger probe ok", "timestamp", res.Timestamp)
	}

	var indexer services.SearchIndexer
	if a.config.SearchURL != "" {
		sc, err := search.NewClient(a.config.SearchURL, []byte(a.config.SearchSecret), a.logger)
		if err != nil {
			return err
		}
		indexer = sc
	}

	svc, err := services.NewRecordService(db, repos, custodian, store, lc, indexer, a.logger)
	if err != nil {
		return err
	}
	a.service = svc
	return nil
}

// Run bootstraps the app and serves metrics and health until the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}
	defer a.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "ok ledger=%s\n", a.ledger.Status())
	})

	srv := &http.Server{Addr: a.config.MetricsAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.logger.Info(ctx, "server started", "metrics_addr", a.config.MetricsAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(shutdownCtx, "metrics server shutdown failed", "error", err)
	}
	a.logger.Info(ctx, "server stopped")
	return nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
	if a.custodian != nil {
		a.custodian.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
