// Package resolver infers the direction and traded token of an ambiguous
// swap by polling for its receipt and scanning the emitted events.
package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/RenZ1z/copytrade-base/internal/domain"
	"github.com/RenZ1z/copytrade-base/internal/logger"
	"github.com/RenZ1z/copytrade-base/pkg/retry"
)

var (
	transferTopic   = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	withdrawalTopic = crypto.Keccak256Hash([]byte("Withdrawal(address,uint256)"))
)

// ReceiptFetcher is the RPC lookup the resolver depends on.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Resolver struct {
	client        ReceiptFetcher
	wrappedNative common.Address
	attempts      int
	interval      time.Duration
	log           *logger.Logger

	mu      sync.Mutex
	awaited map[common.Hash]chan struct{}
}

func New(client ReceiptFetcher, wrappedNative common.Address, attempts int, interval time.Duration, log *logger.Logger) *Resolver {
	return &Resolver{
		client:        client,
		wrappedNative: wrappedNative,
		attempts:      attempts,
		interval:      interval,
		log:           log,
		awaited:       make(map[common.Hash]chan struct{}),
	}
}

// NotifySeen wakes a pending Resolve early when the ingestor observes the
// awaited hash in a block. A no-op for hashes nobody is waiting on.
func (r *Resolver) NotifySeen(txHash common.Hash) {
	r.mu.Lock()
	wake, ok := r.awaited[txHash]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

// Resolve polls for the transaction receipt within the configured budget and
// infers the trade direction from its logs. Exhausting the budget yields the
// terminal DirectionNotFound; an unreadable direction yields DirectionUnknown.
// Neither is an error.
func (r *Resolver) Resolve(ctx context.Context, txHash common.Hash, wallet common.Address) (domain.Direction, error) {
	wake := make(chan struct{}, 1)
	r.mu.Lock()
	r.awaited[txHash] = wake
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.awaited, txHash)
		r.mu.Unlock()
	}()

	var receipt *types.Receipt
	policy := retry.Policy{Attempts: r.attempts, Interval: r.interval, Wake: wake}
	err := policy.Do(ctx, func(attempt int) error {
		got, err := r.client.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		receipt = got
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Direction{}, ctx.Err()
		}
		r.log.WithTxHash(txHash.Hex()).Info("receipt never appeared, transaction presumed dropped")
		return domain.Direction{Kind: domain.DirectionNotFound}, nil
	}

	return r.inspect(receipt, wallet), nil
}

// inspect scans the receipt's logs. A wrapped-native Withdrawal marks a sale
// candidate; the last outbound Transfer from the wallet names the token sold,
// the last inbound Transfer names the token bought. Transfers emitted by the
// wrapped-native contract itself are not candidates. With multi-hop routes
// intermediate transfers precede the final settlement, so the last match in
// log order is authoritative.
func (r *Resolver) inspect(receipt *types.Receipt, wallet common.Address) domain.Direction {
	var (
		unwrapSeen bool
		lastOut    *common.Address
		lastIn     *common.Address
	)

	for _, entry := range receipt.Logs {
		if len(entry.Topics) == 0 {
			continue
		}

		if entry.Topics[0] == withdrawalTopic && entry.Address == r.wrappedNative {
			unwrapSeen = true
			continue
		}

		if entry.Topics[0] != transferTopic || len(entry.Topics) < 3 {
			continue
		}
		if entry.Address == r.wrappedNative {
			continue
		}

		from := common.BytesToAddress(entry.Topics[1].Bytes())
		to := common.BytesToAddress(entry.Topics[2].Bytes())
		token := entry.Address

		if from == wallet {
			t := token
			lastOut = &t
		}
		if to == wallet {
			t := token
			lastIn = &t
		}
	}

	switch {
	case unwrapSeen && lastOut != nil:
		return domain.Direction{Kind: domain.DirectionSale, TokenTraded: lastOut}
	case unwrapSeen:
		// An unwrap with no matching outbound transfer: never guess which
		// position to liquidate.
		return domain.Direction{Kind: domain.DirectionUnknown}
	case lastIn != nil:
		return domain.Direction{Kind: domain.DirectionBuy, TokenTraded: lastIn}
	default:
		return domain.Direction{Kind: domain.DirectionUnknown}
	}
}
