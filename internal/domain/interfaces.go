package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceReader exposes the chain balance lookups the execution gates need.
type BalanceReader interface {
	// NativeBalance returns the native-currency balance of an address in wei.
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)

	// TokenBalance returns the ERC-20 balance of owner for the given token.
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// TxCall is an executable transaction payload, usually produced by the swap
// aggregator.
type TxCall struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// SubmitResult describes a confirmed on-chain submission.
type SubmitResult struct {
	TxHash            string
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// Broadcaster signs, sequences and submits transactions from the managed
// account, waiting for one confirmation.
type Broadcaster interface {
	SubmitAndWait(ctx context.Context, call TxCall) (*SubmitResult, error)
}

// QuoteRequest asks the aggregator for a firm, executable swap quote.
type QuoteRequest struct {
	SellToken  string
	BuyToken   string
	SellAmount *big.Int
	Taker      string
}

// Quote is the aggregator's response: an executable payload plus pricing data
// and, for sells, an optional allowance requirement.
type Quote struct {
	Call            TxCall
	BuyAmount       *big.Int
	GuaranteedPrice string
	// AllowanceTarget is non-zero when an ERC-20 approval must be in place
	// before the swap transaction is valid.
	AllowanceTarget *common.Address
}

// Quoter is the external swap-quoting/execution service boundary.
type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

// Notifier is a fire-and-forget text channel for human-facing events.
type Notifier interface {
	Send(text string)
}

// Journal persists one row per trade attempt. Record upserts by AttemptID;
// failures are logged by implementations and never propagate into the trading
// path.
type Journal interface {
	Record(ctx context.Context, rec *TradeRecord) error
	Close() error
}

// Resolver infers the trade direction of a transaction from its receipt when
// the classifier could not determine it synchronously.
type Resolver interface {
	Resolve(ctx context.Context, txHash common.Hash, wallet common.Address) (Direction, error)
}
