package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration for the oguogu server.
type Config struct {
	Port        string
	DatabaseURL string

	LedgerRPCURL    string
	ContractAddress string
	ChainID         int64

	// Either a raw hex key or an encrypted keystore file identifies the
	// operator account.
	OperatorKey                string
	OperatorKeystore           string
	OperatorKeystorePassphrase string

	PollInterval   time.Duration
	ConfirmTimeout time.Duration

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	GraderTimeout time.Duration

	MaxUploadBytes int64
}

// FromEnv loads configuration from environment variables required by the
// service.
func FromEnv() (*Config, error) {
	port := getEnvDefault("OGUOGU_PORT", "8080")

	dbURL := os.Getenv("OGUOGU_DB_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("OGUOGU_DB_URL is required")
	}

	rpcURL := os.Getenv("OGUOGU_LEDGER_RPC_URL")
	if rpcURL == "" {
		return nil, fmt.Errorf("OGUOGU_LEDGER_RPC_URL is required")
	}
	contract := os.Getenv("OGUOGU_CONTRACT_ADDRESS")
	if contract == "" {
		return nil, fmt.Errorf("OGUOGU_CONTRACT_ADDRESS is required")
	}
	operatorKey := os.Getenv("OGUOGU_OPERATOR_KEY")
	keystorePath := os.Getenv("OGUOGU_OPERATOR_KEYSTORE")
	if operatorKey == "" && keystorePath == "" {
		return nil, fmt.Errorf("OGUOGU_OPERATOR_KEY or OGUOGU_OPERATOR_KEYSTORE is required")
	}
	chainID := int64(parseIntEnv("OGUOGU_CHAIN_ID", 0))
	if chainID <= 0 {
		return nil, fmt.Errorf("OGUOGU_CHAIN_ID is required")
	}

	pollSeconds := parseIntEnv("OGUOGU_POLL_INTERVAL_SECONDS", 1)
	if pollSeconds <= 0 {
		return nil, fmt.Errorf("invalid OGUOGU_POLL_INTERVAL_SECONDS %d", pollSeconds)
	}
	confirmSeconds := parseIntEnv("OGUOGU_CONFIRM_TIMEOUT_SECONDS", 30)
	if confirmSeconds <= 0 {
		return nil, fmt.Errorf("invalid OGUOGU_CONFIRM_TIMEOUT_SECONDS %d", confirmSeconds)
	}

	bucket := os.Getenv("OGUOGU_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("OGUOGU_S3_BUCKET is required")
	}
	accessKey := os.Getenv("OGUOGU_S3_ACCESS_KEY")
	secretKey := os.Getenv("OGUOGU_S3_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("OGUOGU_S3_ACCESS_KEY and OGUOGU_S3_SECRET_KEY are required")
	}

	openAIKey := os.Getenv("OGUOGU_OPENAI_API_KEY")
	if openAIKey == "" {
		return nil, fmt.Errorf("OGUOGU_OPENAI_API_KEY is required")
	}
	graderTimeout := parseIntEnv("OGUOGU_GRADER_TIMEOUT_SECONDS", 60)
	if graderTimeout <= 0 {
		return nil, fmt.Errorf("invalid OGUOGU_GRADER_TIMEOUT_SECONDS %d", graderTimeout)
	}

	maxUploadMiB := parseIntEnv("OGUOGU_MAX_UPLOAD_MIB", 10)
	if maxUploadMiB <= 0 {
		return nil, fmt.Errorf("invalid OGUOGU_MAX_UPLOAD_MIB %d", maxUploadMiB)
	}

	return &Config{
		Port:            normalizePort(port),
		DatabaseURL:     dbURL,
		LedgerRPCURL:    rpcURL,
		ContractAddress: contract,
		ChainID:         chainID,

		OperatorKey:                operatorKey,
		OperatorKeystore:           keystorePath,
		OperatorKeystorePassphrase: os.Getenv("OGUOGU_OPERATOR_KEYSTORE_PASSPHRASE"),

		PollInterval:   time.Duration(pollSeconds) * time.Second,
		ConfirmTimeout: time.Duration(confirmSeconds) * time.Second,
		S3Endpoint:     os.Getenv("OGUOGU_S3_ENDPOINT"),
		S3Region:       getEnvDefault("OGUOGU_S3_REGION", "us-east-1"),
		S3Bucket:       bucket,
		S3AccessKey:    accessKey,
		S3SecretKey:    secretKey,
		OpenAIBaseURL:  os.Getenv("OGUOGU_OPENAI_BASE_URL"),
		OpenAIAPIKey:   openAIKey,
		OpenAIModel:    os.Getenv("OGUOGU_OPENAI_MODEL"),
		GraderTimeout:  time.Duration(graderTimeout) * time.Second,
		MaxUploadBytes: int64(maxUploadMiB) << 20,
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	if port == "" {
		return "8080"
	}
	if _, err := strconv.Atoi(port); err == nil {
		return port
	}
	// Allow values like ":8080".
	if len(port) > 0 && port[0] == ':' {
		return port[1:]
	}
	return port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}
