package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ObservedTransaction is a confirmed transaction pulled from a block that was
// sent by one of the target wallets. It is identified by Hash; the pipeline
// must handle each hash at most once.
type ObservedTransaction struct {
	Hash  common.Hash
	From  common.Address
	To    *common.Address
	Input []byte
	Value *big.Int
}

// Classification is the best-effort result of decoding a transaction's input
// data. Absent token fields are an expected outcome requiring asynchronous
// resolution, not an error.
type Classification struct {
	IsSwap   bool
	Protocol string
	TokenIn  *common.Address
	TokenOut *common.Address
}

// DirectionKind is the terminal outcome of receipt inspection.
type DirectionKind int

const (
	// DirectionUnknown means the receipt was found but the traded token or
	// direction could not be inferred. No trading action is taken.
	DirectionUnknown DirectionKind = iota
	// DirectionBuy means the wallet acquired a token.
	DirectionBuy
	// DirectionSale means the wallet sold a token back to the base currency.
	DirectionSale
	// DirectionNotFound means no receipt appeared within the polling budget;
	// the transaction is presumed dropped.
	DirectionNotFound
)

func (k DirectionKind) String() string {
	switch k {
	case DirectionBuy:
		return "buy"
	case DirectionSale:
		return "sale"
	case DirectionNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Direction is the resolved trade direction for a transaction whose tokens
// could not be determined from input data alone.
type Direction struct {
	Kind        DirectionKind
	TokenTraded *common.Address
}

// Lot is one discrete open position created by a single copied buy. Lots for
// a given (wallet, token) pair are consumed strictly oldest-first on sale.
type Lot struct {
	Token       string    `json:"token"`
	WhaleTxHash string    `json:"whale_tx_hash"`
	MyTxHash    string    `json:"my_tx_hash"`
	AmountUSD   float64   `json:"amount_usd"`
	Timestamp   time.Time `json:"timestamp"`
}

// TradeStatus values recorded in the journal.
const (
	TradeStatusPending = "pending"
	TradeStatusSuccess = "success"
	TradeStatusFailed  = "failed"
	TradeStatusSkipped = "skipped"
)

// TradeRecord is one row in the trade journal, one per attempt.
type TradeRecord struct {
	AttemptID   string    `json:"attempt_id"`
	Wallet      string    `json:"wallet"`
	Token       string    `json:"token"`
	Side        string    `json:"side"` // "buy" or "sell"
	TriggerTx   string    `json:"trigger_tx"`
	OwnTx       string    `json:"own_tx,omitempty"`
	AmountUSD   float64   `json:"amount_usd"`
	GasUsed     uint64    `json:"gas_used,omitempty"`
	DetectedAt  time.Time `json:"detected_at"`
	ExecutedAt  time.Time `json:"executed_at,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}
