package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/RenZ1z/copytrade-base/internal/aggregator"
	"github.com/RenZ1z/copytrade-base/internal/domain"
	"github.com/RenZ1z/copytrade-base/pkg/retry"
)

// considerSell mirrors a whale exit. Each open lot for (wallet, token) is sold
// sequentially as a partial sell sized to 1/remaining of the current on-chain
// balance; lots are never sold in parallel so the same balance cannot be spent
// twice. A failed lot stops the loop and stays in the ledger for a future
// attempt.
func (c *Coordinator) considerSell(ctx context.Context, wallet, token common.Address, triggerTx common.Hash) {
	log := c.log.WithFields(logrus.Fields{
		"wallet":  wallet.Hex(),
		"token":   token.Hex(),
		"side":    "sell",
		"trigger": triggerTx.Hex(),
	})

	if token == c.cfg.WrappedNative {
		log.Debug("whale unwound the wrapped-native token, nothing to copy")
		return
	}

	if len(c.ledger.LotsForToken(wallet.Hex(), token.Hex())) == 0 {
		log.Info("whale sold a token with no open lots, nothing to do")
		c.notifier.Send(fmt.Sprintf("ℹ️ Sell detected: whale %s sold %s, but no position is held for it", wallet.Hex(), token.Hex()))
		return
	}

	for {
		remaining := c.ledger.LotsForToken(wallet.Hex(), token.Hex())
		if len(remaining) == 0 {
			return
		}
		if !c.sellOneLot(ctx, wallet, token, triggerTx, remaining[0], len(remaining), log) {
			return
		}
	}
}

// sellOneLot liquidates the oldest open lot. It returns false when the loop
// over remaining lots must stop.
func (c *Coordinator) sellOneLot(ctx context.Context, wallet, token common.Address, triggerTx common.Hash, lot domain.Lot, remaining int, log *logrus.Entry) bool {
	balance, err := c.chain.TokenBalance(ctx, token, c.chain.Address())
	if err != nil {
		log.WithError(err).Error("token balance check failed, sell aborted")
		c.notifier.Send(fmt.Sprintf("❌ Sell failed for %s (whale %s): balance check error: %v", token.Hex(), wallet.Hex(), err))
		return false
	}

	portion := new(big.Int)
	if balance.Sign() > 0 {
		portion.Div(balance, big.NewInt(int64(remaining)))
	}

	rec := &domain.TradeRecord{
		AttemptID:  uuid.NewString(),
		Wallet:     wallet.Hex(),
		Token:      token.Hex(),
		Side:       "sell",
		TriggerTx:  triggerTx.Hex(),
		AmountUSD:  lot.AmountUSD,
		DetectedAt: time.Now(),
		Status:     domain.TradeStatusPending,
	}

	// The ledger believed a position existed but the chain disagrees: trust
	// the chain, drop the lot.
	if portion.Sign() == 0 {
		if _, err := c.ledger.PopOldestLot(wallet.Hex(), token.Hex()); err != nil {
			log.WithError(err).Error("failed to persist lot removal")
		}
		log.Warn("zero on-chain balance, lot removed without selling")
		c.notifier.Send(fmt.Sprintf("⚠️ Sell skipped for %s (whale %s): on-chain balance is zero, lot removed", token.Hex(), wallet.Hex()))
		rec.Status = domain.TradeStatusSkipped
		c.record(ctx, rec)
		return true
	}

	c.record(ctx, rec)

	var (
		quote  *domain.Quote
		result *domain.SubmitResult
	)
	policy := retry.Policy{Attempts: c.cfg.SellRetries, Interval: c.cfg.SellRetryDelay}
	err = policy.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			log.WithFields(logrus.Fields{"attempt": attempt}).Info("retrying sell")
		}

		q, err := c.quoter.Quote(ctx, domain.QuoteRequest{
			SellToken:  token.Hex(),
			BuyToken:   aggregator.NativeToken,
			SellAmount: portion,
			Taker:      c.chain.Address().Hex(),
		})
		if err != nil {
			return fmt.Errorf("quote failed: %w", err)
		}

		if q.AllowanceTarget != nil {
			if err := c.ensureAllowance(ctx, token, *q.AllowanceTarget, portion, balance); err != nil {
				return err
			}
		}

		res, err := c.chain.SubmitAndWait(ctx, q.Call)
		if err != nil {
			return fmt.Errorf("submission failed: %w", err)
		}

		quote, result = q, res
		rec.ExecutedAt = time.Now()
		return nil
	})
	if err != nil {
		log.WithError(err).Error("sell attempts exhausted, lot kept")
		c.notifier.Send(fmt.Sprintf("❌ Sell failed for %s (whale %s) after %d attempts: %v", token.Hex(), wallet.Hex(), c.cfg.SellRetries, err))
		rec.Status = domain.TradeStatusFailed
		rec.Error = err.Error()
		c.record(ctx, rec)
		return false
	}

	if _, err := c.ledger.PopOldestLot(wallet.Hex(), token.Hex()); err != nil {
		log.WithError(err).Error("failed to persist lot removal")
	}

	log.WithFields(logrus.Fields{"own_tx": result.TxHash, "gas_used": result.GasUsed}).Info("sell executed")
	c.notifier.Send(fmt.Sprintf("✅ Sell executed: %s of %s (whale %s, 1 of %d lots)\nTx: %s\nGuaranteed price: %s, gas used: %d",
		portion.String(), token.Hex(), wallet.Hex(), remaining, result.TxHash, quote.GuaranteedPrice, result.GasUsed))

	rec.OwnTx = result.TxHash
	rec.GasUsed = result.GasUsed
	rec.ConfirmedAt = time.Now()
	rec.Status = domain.TradeStatusSuccess
	c.record(ctx, rec)
	return true
}

// ensureAllowance checks the spender's ERC-20 allowance and submits an
// approve for the full current balance when it falls short, covering the
// remaining lots in one transaction.
func (c *Coordinator) ensureAllowance(ctx context.Context, token, spender common.Address, needed, balance *big.Int) error {
	allowance, err := c.chain.Allowance(ctx, token, c.chain.Address(), spender)
	if err != nil {
		return fmt.Errorf("allowance check failed: %w", err)
	}
	if allowance.Cmp(needed) >= 0 {
		return nil
	}

	c.log.WithToken(token.Hex()).Info("submitting approval for aggregator spender")
	if _, err := c.chain.Approve(ctx, token, spender, balance); err != nil {
		return fmt.Errorf("approval failed: %w", err)
	}
	return nil
}
