package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math/big"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"oguogu/config"
	"oguogu/crypto"
	"oguogu/ledger"
	"oguogu/observability"
	"oguogu/registry"
	"oguogu/server"
	"oguogu/storage"
	"oguogu/storage/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		fatal(logger, "config error", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		fatal(logger, "database connection error", err)
	}
	if err := storage.AutoMigrate(db); err != nil {
		fatal(logger, "auto migrate error", err)
	}
	repo := storage.NewChallengeRepository(db)

	signer, err := loadSigner(cfg, logger)
	if err != nil {
		fatal(logger, "operator key error", err)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		fatal(logger, "invalid contract address", nil, "address", cfg.ContractAddress)
	}
	contract, err := ledger.NewContract(common.HexToAddress(cfg.ContractAddress))
	if err != nil {
		fatal(logger, "contract init error", err)
	}

	client, err := ledger.Dial(cfg.LedgerRPCURL)
	if err != nil {
		fatal(logger, "ledger rpc error", err)
	}
	relay := ledger.NewOrchestrator(ledger.Config{
		Client:         client,
		Signer:         signer,
		Contract:       contract,
		ChainID:        big.NewInt(cfg.ChainID),
		PollInterval:   cfg.PollInterval,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Logger:         logger.With("component", "ledger"),
		Metrics:        observability.Ledger(),
	})

	store, err := objectstore.New(context.Background(), objectstore.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		fatal(logger, "object store error", err)
	}

	grader := registry.NewOpenAIGrader(registry.GraderConfig{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.GraderTimeout,
		Logger:  logger.With("component", "grader"),
		Metrics: observability.Grader(),
	})

	srv := server.New(server.Config{
		Challenges:     registry.NewChallengeService(repo, signer, relay, contract, logger.With("component", "challenges")),
		Activities:     registry.NewActivityService(repo, relay, contract, store, grader, logger.With("component", "activities")),
		Rewards:        registry.NewRewardService(repo, relay, contract, logger.With("component", "rewards")),
		Logger:         logger.With("component", "http"),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	logger.Info("starting oguogud", "addr", addr, "contract", cfg.ContractAddress, "operator", signer.Address().Hex())
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		fatal(logger, "server error", err)
	}
}

// loadSigner resolves the operator identity. A configured keystore path
// that does not exist yet is bootstrapped: the raw key from the
// environment is imported into it, or a fresh key is generated.
func loadSigner(cfg *config.Config, logger *slog.Logger) (*crypto.Signer, error) {
	if cfg.OperatorKeystore == "" {
		return crypto.NewSigner(cfg.OperatorKey)
	}
	if _, err := os.Stat(cfg.OperatorKeystore); err == nil {
		return crypto.SignerFromKeystore(cfg.OperatorKeystore, cfg.OperatorKeystorePassphrase)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	signer, err := bootstrapSigner(cfg)
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveToKeystore(cfg.OperatorKeystore, signer, cfg.OperatorKeystorePassphrase); err != nil {
		return nil, err
	}
	logger.Info("operator keystore created", "path", cfg.OperatorKeystore, "operator", signer.Address().Hex())
	return signer, nil
}

func bootstrapSigner(cfg *config.Config) (*crypto.Signer, error) {
	if cfg.OperatorKey != "" {
		return crypto.NewSigner(cfg.OperatorKey)
	}
	return crypto.GenerateSigner()
}

func fatal(logger *slog.Logger, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "err", err)
	}
	logger.Error(msg, args...)
	os.Exit(1)
}
