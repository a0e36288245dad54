package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/RenZ1z/copytrade-base/internal/aggregator"
	"github.com/RenZ1z/copytrade-base/internal/domain"
)

// considerBuy copies a whale buy: cooldown gate, native-balance guard, then a
// single quote + submit + confirm cycle. A missed buy is acceptable, a
// duplicated one is not, so there is no retry on this path.
func (c *Coordinator) considerBuy(ctx context.Context, wallet, token common.Address, triggerTx common.Hash) {
	log := c.log.WithFields(logrus.Fields{
		"wallet":  wallet.Hex(),
		"token":   token.Hex(),
		"side":    "buy",
		"trigger": triggerTx.Hex(),
	})

	if token == c.cfg.WrappedNative {
		log.Debug("whale bought the wrapped-native token, nothing to copy")
		return
	}

	if !c.passCooldown(wallet) {
		log.Info("cooldown active, buy skipped")
		return
	}

	nativeAmount := c.cfg.BuyAmountUSD / c.cfg.NativeUSDPrice
	required := nativeToWei(nativeAmount * (1 + c.cfg.BalanceBufferPct/100))

	balance, err := c.chain.NativeBalance(ctx, c.chain.Address())
	if err != nil {
		log.WithError(err).Error("balance check failed, buy skipped")
		return
	}

	if balance.Cmp(required) < 0 {
		if c.setPaused(true) {
			c.notifier.Send(fmt.Sprintf("⚠️ Insufficient balance: have %s wei, need %s wei. Buying paused until the balance recovers.",
				balance.String(), required.String()))
		}
		log.Warn("insufficient native balance, buy skipped")
		return
	}
	if c.setPaused(false) {
		log.Info("balance recovered, buying resumed")
	}

	rec := &domain.TradeRecord{
		AttemptID:  uuid.NewString(),
		Wallet:     wallet.Hex(),
		Token:      token.Hex(),
		Side:       "buy",
		TriggerTx:  triggerTx.Hex(),
		AmountUSD:  c.cfg.BuyAmountUSD,
		DetectedAt: time.Now(),
		Status:     domain.TradeStatusPending,
	}
	c.record(ctx, rec)

	quote, err := c.quoter.Quote(ctx, domain.QuoteRequest{
		SellToken:  aggregator.NativeToken,
		BuyToken:   token.Hex(),
		SellAmount: nativeToWei(nativeAmount),
		Taker:      c.chain.Address().Hex(),
	})
	if err != nil {
		log.WithError(err).Error("buy quote failed")
		c.notifier.Send(fmt.Sprintf("❌ Buy failed for %s (whale %s): quote error: %v", token.Hex(), wallet.Hex(), err))
		rec.Status = domain.TradeStatusFailed
		rec.Error = err.Error()
		c.record(ctx, rec)
		return
	}

	rec.ExecutedAt = time.Now()
	result, err := c.chain.SubmitAndWait(ctx, quote.Call)
	if err != nil {
		log.WithError(err).Error("buy submission failed")
		c.notifier.Send(fmt.Sprintf("❌ Buy failed for %s (whale %s): %v", token.Hex(), wallet.Hex(), err))
		rec.Status = domain.TradeStatusFailed
		rec.Error = err.Error()
		c.record(ctx, rec)
		return
	}

	lot := domain.Lot{
		Token:       token.Hex(),
		WhaleTxHash: triggerTx.Hex(),
		MyTxHash:    result.TxHash,
		AmountUSD:   c.cfg.BuyAmountUSD,
		Timestamp:   time.Now(),
	}
	if err := c.ledger.AddLot(wallet.Hex(), lot); err != nil {
		log.WithError(err).Error("failed to persist new lot")
	}

	log.WithFields(logrus.Fields{"own_tx": result.TxHash, "gas_used": result.GasUsed}).Info("buy executed")
	c.notifier.Send(fmt.Sprintf("✅ Buy executed: %.2f USD of %s (whale %s)\nTx: %s\nGuaranteed price: %s, gas used: %d",
		c.cfg.BuyAmountUSD, token.Hex(), wallet.Hex(), result.TxHash, quote.GuaranteedPrice, result.GasUsed))

	rec.OwnTx = result.TxHash
	rec.GasUsed = result.GasUsed
	rec.ConfirmedAt = time.Now()
	rec.Status = domain.TradeStatusSuccess
	c.record(ctx, rec)
}

// record writes a journal row; journal failures are logged and never affect
// the trading path.
func (c *Coordinator) record(ctx context.Context, rec *domain.TradeRecord) {
	if err := c.journal.Record(ctx, rec); err != nil {
		c.log.WithError(err).Warn("journal write failed")
	}
}
