package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays configuration from environment variables. A .env file in
// the working directory is loaded first if present; real environment
// variables win over it.
func parseEnv(config *Config) {
	_ = godotenv.Load()

	setString(&config.MetricsAddr, "METRICS_ADDR")
	setString(&config.DatabaseDSN, "DATABASE_DSN")

	setString(&config.S3AccessKey, "S3_ACCESS_KEY")
	setString(&config.S3SecretKey, "S3_SECRET_KEY")
	setString(&config.S3Bucket, "S3_BUCKET")
	setString(&config.S3Region, "S3_REGION")
	setString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")

	setString(&config.LedgerEndpoint, "LEDGER_ENDPOINT")
	setString(&config.LedgerMSPID, "LEDGER_MSP_ID")
	setString(&config.LedgerCert, "LEDGER_CERT")
	setString(&config.LedgerKey, "LEDGER_KEY")
	setString(&config.LedgerTLSCert, "LEDGER_TLS_CERT")
	setString(&config.LedgerServerNameOverride, "LEDGER_SERVER_NAME_OVERRIDE")
	setString(&config.LedgerChannel, "LEDGER_CHANNEL")
	setString(&config.LedgerChaincode, "LEDGER_CHAINCODE")
	setDuration(&config.LedgerTimeout, "LEDGER_TIMEOUT")
	setUint(&config.LedgerMaxRetries, "LEDGER_MAX_RETRIES")
	setDuration(&config.LedgerRetryDelay, "LEDGER_RETRY_DELAY")
	setBool(&config.LedgerRetryExponential, "LEDGER_RETRY_EXPONENTIAL")

	setString(&config.MasterKeyPassphrase, "MASTER_KEY_PASSPHRASE")
	setString(&config.MasterKeySalt, "MASTER_KEY_SALT")
	setString(&config.MasterKeyID, "MASTER_KEY_ID")

	setString(&config.SearchURL, "SEARCH_URL")
	setString(&config.SearchSecret, "SEARCH_SECRET")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setUint(dst *uint64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
