package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PendingNonceReader is the chain's view of an account's next nonce.
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceSequencer serializes nonce allocation for the managed account. The
// counter is lazily primed from the chain's pending nonce, then incremented in
// memory for each caller; concurrent callers are released one at a time in
// arrival order. Invalidate discards the cache so the next caller re-primes.
type NonceSequencer struct {
	mu      sync.Mutex
	client  PendingNonceReader
	address common.Address
	next    uint64
	primed  bool
}

func NewNonceSequencer(client PendingNonceReader, address common.Address) *NonceSequencer {
	return &NonceSequencer{client: client, address: address}
}

// Next returns the nonce for the caller's transaction. The caller must use it
// or Invalidate the sequencer; an unused nonce would stall every later
// submission.
func (s *NonceSequencer) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		n, err := s.client.PendingNonceAt(ctx, s.address)
		if err != nil {
			return 0, fmt.Errorf("failed to prime nonce from chain: %w", err)
		}
		s.next = n
		s.primed = true
	}

	n := s.next
	s.next++
	return n, nil
}

// Invalidate discards the cached counter. Called after any nonce-related
// submission error.
func (s *NonceSequencer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primed = false
}

// IsNonceError reports whether a submission error indicates a stale or
// conflicting nonce. Detection is by message inspection since providers do not
// expose structured codes for these.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, probe := range []string{
		"nonce too low",
		"nonce too high",
		"replacement transaction underpriced",
		"already known",
		"invalid nonce",
	} {
		if strings.Contains(msg, probe) {
			return true
		}
	}
	return false
}
