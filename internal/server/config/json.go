package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/medledger/medledger/internal/flagx"
)

// JsonConfig is the intermediate DTO for reading JSON configuration files.
// Duration fields are Go duration strings ("30s", "1m"). Non-zero values are
// copied into the runtime Config.
type JsonConfig struct {
	MetricsAddr string `json:"metrics_addr"`
	DatabaseDSN string `json:"database_dsn"`

	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	LedgerEndpoint           string `json:"ledger_endpoint"`
	LedgerMSPID              string `json:"ledger_msp_id"`
	LedgerCert               string `json:"ledger_cert"`
	LedgerKey                string `json:"ledger_key"`
	LedgerTLSCert            string `json:"ledger_tls_cert"`
	LedgerServerNameOverride string `json:"ledger_server_name_override"`
	LedgerChannel            string `json:"ledger_channel"`
	LedgerChaincode          string `json:"ledger_chaincode"`
	LedgerTimeout            string `json:"ledger_timeout"`
	LedgerMaxRetries         uint64 `json:"ledger_max_retries"`
	LedgerRetryDelay         string `json:"ledger_retry_delay"`
	LedgerRetryExponential   bool   `json:"ledger_retry_exponential"`

	MasterKeyPassphrase string `json:"master_key_passphrase"`
	MasterKeySalt       string `json:"master_key_salt"`
	MasterKeyID         string `json:"master_key_id"`

	SearchURL    string `json:"search_url"`
	SearchSecret string `json:"search_secret"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flags. Without the flag, no file is loaded. A file that cannot be
// read or parsed is a startup failure, so the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	overlay(&config.MetricsAddr, c.MetricsAddr)
	overlay(&config.DatabaseDSN, c.DatabaseDSN)
	overlay(&config.S3AccessKey, c.S3AccessKey)
	overlay(&config.S3SecretKey, c.S3SecretKey)
	overlay(&config.S3Bucket, c.S3Bucket)
	overlay(&config.S3Region, c.S3Region)
	overlay(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	overlay(&config.LedgerEndpoint, c.LedgerEndpoint)
	overlay(&config.LedgerMSPID, c.LedgerMSPID)
	overlay(&config.LedgerCert, c.LedgerCert)
	overlay(&config.LedgerKey, c.LedgerKey)
	overlay(&config.LedgerTLSCert, c.LedgerTLSCert)
	overlay(&config.LedgerServerNameOverride, c.LedgerServerNameOverride)
	overlay(&config.LedgerChannel, c.LedgerChannel)
	overlay(&config.LedgerChaincode, c.LedgerChaincode)
	overlayDuration(&config.LedgerTimeout, c.LedgerTimeout)
	if c.LedgerMaxRetries != 0 {
		config.LedgerMaxRetries = c.LedgerMaxRetries
	}
	overlayDuration(&config.LedgerRetryDelay, c.LedgerRetryDelay)
	if c.LedgerRetryExponential {
		config.LedgerRetryExponential = true
	}
	overlay(&config.MasterKeyPassphrase, c.MasterKeyPassphrase)
	overlay(&config.MasterKeySalt, c.MasterKeySalt)
	overlay(&config.MasterKeyID, c.MasterKeyID)
	overlay(&config.SearchURL, c.SearchURL)
	overlay(&config.SearchSecret, c.SearchSecret)
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overlayDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(err)
	}
	*dst = d
}
