package config

import (
	"flag"
	"os"

	"github.com/medledger/medledger/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-m string   metrics/health bind address (e.g., ":9090")
//	-d string   PostgreSQL DSN
//	-b string   S3 bucket name
//	-e string   S3 base endpoint
//	-l string   ledger gateway endpoint (host:port)
//	-n string   ledger channel name
//	-k string   ledger chaincode name
//
// The function filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-m", "-d", "-b", "-e", "-l", "-n", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics bind address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LedgerEndpoint, "l", config.LedgerEndpoint, "ledger gateway endpoint")
	fs.StringVar(&config.LedgerChannel, "n", config.LedgerChannel, "ledger channel")
	fs.StringVar(&config.LedgerChaincode, "k", config.LedgerChaincode, "ledger chaincode")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
