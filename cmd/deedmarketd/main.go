package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"deedmarket/config"
	coreevents "deedmarket/core/events"
	"deedmarket/core/state"
	"deedmarket/crypto"
	"deedmarket/ledger"
	"deedmarket/native/auction"
	nativecommon "deedmarket/native/common"
	"deedmarket/native/escrow"
	"deedmarket/native/registry"
	"deedmarket/observability/logging"
	"deedmarket/rpc"
	"deedmarket/storage"
)

const (
	rpcTokenEnv       = "DEEDMARKET_RPC_TOKEN"
	envEnv            = "DEEDMARKET_ENV"
	genesisAppliedKey = "node/genesisApplied"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envEnv))
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("deedmarketd", env, cfg.LogLevel)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager, err := state.NewManager(db)
	if err != nil {
		logger.Error("failed to load state", slog.Any("error", err))
		os.Exit(1)
	}

	policy, vault, err := resolvePolicy(cfg)
	if err != nil {
		logger.Error("invalid operator configuration", slog.Any("error", err))
		os.Exit(1)
	}

	bank := ledger.New(manager, vault)
	if err := applyGenesis(cfg, manager, bank, logger); err != nil {
		logger.Error("failed to apply genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	pauses := nativecommon.NewPauseRegistry()
	broadcaster := coreevents.NewBroadcaster(4096)

	registryEngine := registry.NewEngine(policy)
	registryEngine.SetState(manager)
	registryEngine.SetPauseControl(pauses)
	registryEngine.SetEmitter(broadcaster)

	auctionEngine := auction.NewEngine(policy)
	auctionEngine.SetState(manager)
	auctionEngine.SetRegistry(registryEngine)
	auctionEngine.SetLedger(bank)
	auctionEngine.SetPauseControl(pauses)
	auctionEngine.SetEmitter(broadcaster)
	if cfg.PlatformFeeBps > 0 {
		if err := auctionEngine.SeedPlatformFee(policy.Admin, uint32(cfg.PlatformFeeBps)); err != nil {
			logger.Error("failed to apply configured platform fee", slog.Any("error", err))
			os.Exit(1)
		}
	}

	escrowEngine := escrow.NewEngine(policy)
	escrowEngine.SetState(manager)
	escrowEngine.SetRegistry(registryEngine)
	escrowEngine.SetLedger(bank)
	escrowEngine.SetPauseControl(pauses)
	escrowEngine.SetEmitter(broadcaster)

	authToken := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if authToken == "" {
		authToken = strings.TrimSpace(cfg.RPCAuthToken)
	}

	server := rpc.NewServer(registryEngine, auctionEngine, escrowEngine, bank, broadcaster, pauses, rpc.Options{
		AuthToken: authToken,
		RateLimit: cfg.RPCRateLimit,
		RateBurst: cfg.RPCRateBurst,
		Logger:    logger,
	})

	auditPath := strings.TrimSpace(cfg.AuditDBPath)
	if auditPath == "" {
		auditPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	audit, err := rpc.OpenAuditStore(auditPath)
	if err != nil {
		logger.Error("failed to open audit store", slog.Any("error", err))
		os.Exit(1)
	}
	defer audit.Close()
	server.SetAuditStore(audit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("node started",
		"rpc", cfg.RPCAddress,
		"dataDir", cfg.DataDir,
		"admin", cfg.AdminAddress,
		"verifier", cfg.VerifierAddress,
	)
	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		logger.Error("rpc server exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("node stopped")
}

func resolvePolicy(cfg *config.Config) (nativecommon.Policy, [20]byte, error) {
	var policy nativecommon.Policy
	var vault [20]byte
	if strings.TrimSpace(cfg.AdminAddress) != "" {
		addr, err := crypto.DecodeAddress(cfg.AdminAddress)
		if err != nil {
			return policy, vault, err
		}
		policy.Admin = addr.Raw()
	}
	if strings.TrimSpace(cfg.VerifierAddress) != "" {
		addr, err := crypto.DecodeAddress(cfg.VerifierAddress)
		if err != nil {
			return policy, vault, err
		}
		policy.Verifier = addr.Raw()
	}
	policy.AllowAdminComplete = cfg.AllowAdminComplete
	if strings.TrimSpace(cfg.VaultAddress) != "" {
		addr, err := crypto.DecodeAddress(cfg.VaultAddress)
		if err != nil {
			return policy, vault, err
		}
		vault = addr.Raw()
	}
	return policy, vault, nil
}

// applyGenesis seeds configured balances exactly once per data directory.
func applyGenesis(cfg *config.Config, manager *state.Manager, bank *ledger.Ledger, logger *slog.Logger) error {
	if len(cfg.GenesisAlloc) == 0 {
		return nil
	}
	if _, applied, err := manager.ParamGet(genesisAppliedKey); err != nil {
		return err
	} else if applied {
		return nil
	}
	addrs, amounts, err := cfg.DecodedAlloc()
	if err != nil {
		return err
	}
	for i, addr := range addrs {
		if err := bank.Credit(addr, amounts[i]); err != nil {
			return err
		}
		logger.Info("genesis allocation applied",
			"address", cfg.GenesisAlloc[i].Address,
			"amount", amounts[i].String(),
		)
	}
	return manager.ParamPut(genesisAppliedKey, []byte{1})
}
