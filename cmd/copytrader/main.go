package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/RenZ1z/copytrade-base/internal/aggregator"
	"github.com/RenZ1z/copytrade-base/internal/chain"
	"github.com/RenZ1z/copytrade-base/internal/classifier"
	"github.com/RenZ1z/copytrade-base/internal/config"
	"github.com/RenZ1z/copytrade-base/internal/domain"
	"github.com/RenZ1z/copytrade-base/internal/engine"
	"github.com/RenZ1z/copytrade-base/internal/ingest"
	"github.com/RenZ1z/copytrade-base/internal/journal"
	"github.com/RenZ1z/copytrade-base/internal/ledger"
	"github.com/RenZ1z/copytrade-base/internal/logger"
	"github.com/RenZ1z/copytrade-base/internal/notify"
	"github.com/RenZ1z/copytrade-base/internal/resolver"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	client, err := chain.NewClient(cfg.Chain.HTTPEndpoint, cfg.Chain.ChainID, cfg.Chain.PrivateKey, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize chain client")
	}
	defer client.Close()
	log.WithWallet(client.Address().Hex()).Info("managed account loaded")

	var notifier domain.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var trades domain.Journal = journal.Noop{}
	if cfg.Redis.Enabled {
		j, err := journal.NewRedis(ctx, journal.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.WithError(err).Warn("redis unavailable, trade journal disabled")
		} else {
			trades = j
			defer j.Close()
		}
	}

	wrappedNative := common.HexToAddress(cfg.Chain.WrappedNative)

	routers := make([]common.Address, 0, len(cfg.Trading.Routers))
	for _, r := range cfg.Trading.Routers {
		routers = append(routers, common.HexToAddress(r))
	}
	targets := make([]common.Address, 0, len(cfg.Trading.TargetWallets))
	for _, w := range cfg.Trading.TargetWallets {
		targets = append(targets, common.HexToAddress(w))
	}

	positions := ledger.Load(cfg.Trading.LedgerPath, log)
	log.WithFields(map[string]interface{}{"open_lots": positions.OpenLotCount()}).Info("position ledger loaded")

	res := resolver.New(client, wrappedNative,
		cfg.Trading.ReceiptAttempts,
		time.Duration(cfg.Trading.ReceiptIntervalSec)*time.Second,
		log)

	quoter := aggregator.NewClient(cfg.Aggregator.BaseURL, cfg.Aggregator.APIKey)

	coordinator := engine.New(engine.Config{
		WrappedNative:    wrappedNative,
		BuyAmountUSD:     cfg.Trading.BuyAmountUSD,
		NativeUSDPrice:   cfg.Trading.NativeUSDPrice,
		BalanceBufferPct: cfg.Trading.BalanceBufferPct,
		Cooldown:         time.Duration(cfg.Trading.CooldownSec) * time.Second,
		SellRetries:      cfg.Trading.SellRetries,
		SellRetryDelay:   time.Duration(cfg.Trading.SellRetryDelaySec) * time.Second,
		ShutdownTimeout:  time.Duration(cfg.Trading.ShutdownTimeoutSec) * time.Second,
	}, classifier.New(routers), res, positions, client, quoter, notifier, trades, log)

	ingestor := ingest.New(ingest.Config{
		Endpoint: cfg.Chain.WSEndpoint,
		Targets:  targets,
	}, client, coordinator, res, log)

	notifier.Send(fmt.Sprintf("🤖 Copy trader started: watching %d wallets", len(targets)))
	log.WithFields(map[string]interface{}{"wallets": len(targets)}).Info("copy trader started")

	ingestor.Run(ctx)

	log.Info("shutting down, waiting for in-flight handlers")
	coordinator.Close()
	notifier.Send("🛑 Copy trader stopped")
}
