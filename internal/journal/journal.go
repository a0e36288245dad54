// Package journal persists one row per trade attempt in Redis. The journal
// is a collaborator: write failures are reported to the caller for logging
// but carry no trading semantics.
package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RenZ1z/copytrade-base/internal/domain"
)

const (
	idCounterKey = "copytrade:journal:id"
	rowKeyPrefix = "copytrade:journal:"
	indexKey     = "copytrade:journal:index"
)

// RedisJournal appends trade attempts as hashes keyed by an auto-incrementing
// id, with a time-ordered index for export. Rows are replayed for the same
// AttemptID as the attempt moves through pending -> success/failed/skipped.
type RedisJournal struct {
	rdb *redis.Client

	mu sync.Mutex
	// AttemptID -> allocated row id, so status transitions update in place.
	ids map[string]int64
}

type Config struct {
	Address  string
	Password string
	DB       int
}

func NewRedis(ctx context.Context, cfg Config) (*RedisJournal, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisJournal{rdb: rdb, ids: make(map[string]int64)}, nil
}

// Record upserts the attempt's row. The first write for an AttemptID
// allocates the next id and indexes it by detection time.
func (j *RedisJournal) Record(ctx context.Context, rec *domain.TradeRecord) error {
	j.mu.Lock()
	id, ok := j.ids[rec.AttemptID]
	j.mu.Unlock()
	if !ok {
		allocated, err := j.rdb.Incr(ctx, idCounterKey).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate journal id: %w", err)
		}
		id = allocated
		j.mu.Lock()
		j.ids[rec.AttemptID] = id
		j.mu.Unlock()

		score := float64(rec.DetectedAt.UnixMilli())
		if err := j.rdb.ZAdd(ctx, indexKey, redis.Z{Score: score, Member: id}).Err(); err != nil {
			return fmt.Errorf("failed to index journal row: %w", err)
		}
	}

	fields := map[string]interface{}{
		"attempt_id":  rec.AttemptID,
		"wallet":      rec.Wallet,
		"token":       rec.Token,
		"side":        rec.Side,
		"trigger_tx":  rec.TriggerTx,
		"own_tx":      rec.OwnTx,
		"amount_usd":  rec.AmountUSD,
		"gas_used":    rec.GasUsed,
		"detected_at": formatTime(rec.DetectedAt),
		"status":      rec.Status,
		"error":       rec.Error,
	}
	if !rec.ExecutedAt.IsZero() {
		fields["executed_at"] = formatTime(rec.ExecutedAt)
	}
	if !rec.ConfirmedAt.IsZero() {
		fields["confirmed_at"] = formatTime(rec.ConfirmedAt)
	}

	key := fmt.Sprintf("%s%d", rowKeyPrefix, id)
	if err := j.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write journal row: %w", err)
	}
	return nil
}

func (j *RedisJournal) Close() error {
	return j.rdb.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Noop is used when Redis is not configured.
type Noop struct{}

func (Noop) Record(context.Context, *domain.TradeRecord) error { return nil }
func (Noop) Close() error                                      { return nil }
