// Package engine drives trade execution: it routes classified whale
// transactions through the dedup, cooldown and balance gates, then runs the
// quote, submit and confirm cycle against the aggregator.
package engine

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/RenZ1z/copytrade-base/internal/classifier"
	"github.com/RenZ1z/copytrade-base/internal/domain"
	"github.com/RenZ1z/copytrade-base/internal/ledger"
	"github.com/RenZ1z/copytrade-base/internal/logger"
)

// ChainBackend is the slice of the chain client the engine needs.
type ChainBackend interface {
	domain.BalanceReader
	domain.Broadcaster
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*domain.SubmitResult, error)
	Address() common.Address
}

// Config holds the engine's trading parameters.
type Config struct {
	WrappedNative    common.Address
	BuyAmountUSD     float64
	NativeUSDPrice   float64
	BalanceBufferPct float64
	Cooldown         time.Duration
	SellRetries      int
	SellRetryDelay   time.Duration
	ShutdownTimeout  time.Duration
}

// Coordinator owns all per-run trading state: the dedup set, the per-wallet
// cooldown stamps and the paused flag. One instance is constructed at startup
// and shared by every handler; all state is mutex-guarded since handlers run
// concurrently.
type Coordinator struct {
	cfg        Config
	classifier *classifier.Classifier
	resolver   domain.Resolver
	ledger     *ledger.Ledger
	chain      ChainBackend
	quoter     domain.Quoter
	notifier   domain.Notifier
	journal    domain.Journal
	log        *logger.Logger

	mu      sync.Mutex
	seen    map[common.Hash]struct{}
	lastBuy map[string]time.Time
	paused  bool

	wg sync.WaitGroup
}

func New(cfg Config, cls *classifier.Classifier, res domain.Resolver, led *ledger.Ledger, chain ChainBackend, quoter domain.Quoter, notifier domain.Notifier, journal domain.Journal, log *logger.Logger) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		classifier: cls,
		resolver:   res,
		ledger:     led,
		chain:      chain,
		quoter:     quoter,
		notifier:   notifier,
		journal:    journal,
		log:        log,
		seen:       make(map[common.Hash]struct{}),
		lastBuy:    make(map[string]time.Time),
	}
}

// Dispatch runs HandleTransaction in a tracked goroutine so the ingestor's
// read loop never blocks on trade execution.
func (c *Coordinator) Dispatch(ctx context.Context, tx domain.ObservedTransaction) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.HandleTransaction(ctx, tx)
	}()
}

// Close waits for in-flight handlers up to the shutdown timeout. Handlers
// still running after that are abandoned at process exit.
func (c *Coordinator) Close() {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownTimeout):
		c.log.Warn("shutdown timeout reached, abandoning in-flight handlers")
	}
}

// HandleTransaction processes one observed whale transaction end to end:
// dedup, classify, resolve the direction if the calldata alone is not enough,
// then route to the buy or sell path. Each hash is handled at most once per
// run.
func (c *Coordinator) HandleTransaction(ctx context.Context, tx domain.ObservedTransaction) {
	if !c.markSeen(tx.Hash) {
		c.log.WithTxHash(tx.Hash.Hex()).Debug("transaction already handled, skipping")
		return
	}

	cls := c.classifier.Classify(tx.To, tx.Input, tx.Value)
	if !cls.IsSwap {
		return
	}

	log := c.log.WithFields(logrus.Fields{
		"tx_hash":  tx.Hash.Hex(),
		"wallet":   tx.From.Hex(),
		"protocol": cls.Protocol,
	})
	log.Info("swap detected")

	dir, err := c.direction(ctx, tx, cls)
	if err != nil {
		log.WithError(err).Error("failed to resolve swap direction")
		return
	}

	switch dir.Kind {
	case domain.DirectionBuy:
		c.considerBuy(ctx, tx.From, *dir.TokenTraded, tx.Hash)
	case domain.DirectionSale:
		c.considerSell(ctx, tx.From, *dir.TokenTraded, tx.Hash)
	case domain.DirectionNotFound:
		log.Info("no receipt within budget, transaction presumed dropped")
	default:
		log.Warn("swap direction unknown, no action taken")
		c.notifier.Send("⚠️ Swap " + tx.Hash.Hex() + " by " + tx.From.Hex() + ": direction could not be determined, no action taken")
	}
}

// direction derives the trade direction synchronously from decoded calldata
// when both tokens are known, and falls back to receipt resolution otherwise.
// A swap out of the wrapped-native token is a buy of the output token; a swap
// into it is a sale of the input token.
func (c *Coordinator) direction(ctx context.Context, tx domain.ObservedTransaction, cls domain.Classification) (domain.Direction, error) {
	if cls.TokenIn != nil && cls.TokenOut != nil {
		if *cls.TokenOut == c.cfg.WrappedNative {
			if *cls.TokenIn == c.cfg.WrappedNative {
				return domain.Direction{Kind: domain.DirectionUnknown}, nil
			}
			return domain.Direction{Kind: domain.DirectionSale, TokenTraded: cls.TokenIn}, nil
		}
		return domain.Direction{Kind: domain.DirectionBuy, TokenTraded: cls.TokenOut}, nil
	}
	return c.resolver.Resolve(ctx, tx.Hash, tx.From)
}

// markSeen records the hash in the dedup set; it returns false when the hash
// was already present.
func (c *Coordinator) markSeen(hash common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[hash]; ok {
		return false
	}
	c.seen[hash] = struct{}{}
	return true
}

// passCooldown atomically checks the wallet's cooldown window and, when it
// has elapsed, stamps the new trigger time. The check and the stamp share one
// critical section so two concurrent triggers cannot both pass.
func (c *Coordinator) passCooldown(wallet common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalizedAddr(wallet)
	if last, ok := c.lastBuy[key]; ok && time.Since(last) < c.cfg.Cooldown {
		return false
	}
	c.lastBuy[key] = time.Now()
	return true
}

// setPaused flips the paused flag and reports whether the value changed, so
// the pause and resume transitions can be notified exactly once per episode.
func (c *Coordinator) setPaused(paused bool) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused == paused {
		return false
	}
	c.paused = paused
	return true
}

func normalizedAddr(a common.Address) string {
	return a.Hex()
}

// nativeToWei converts a native-currency amount to wei.
func nativeToWei(amount float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18))
	wei, _ := f.Int(nil)
	return wei
}
