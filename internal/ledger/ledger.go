// Package ledger tracks open lots per (whale wallet, token) with strict FIFO
// consumption. The full ledger is persisted to disk synchronously after every
// mutation, before the mutation is acknowledged to the caller.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/RenZ1z/copytrade-base/internal/domain"
	"github.com/RenZ1z/copytrade-base/internal/logger"
)

// Ledger is the single writer of truth for "what do we currently hold per
// whale". All operations are safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	filePath  string
	positions map[string][]domain.Lot // wallet (lowercase hex) -> ordered lots
	log       *logger.Logger
}

// Load reads the ledger file. A missing or corrupt file is non-fatal: it logs
// a warning and starts from an empty ledger.
func Load(filePath string, log *logger.Logger) *Ledger {
	l := &Ledger{
		filePath:  filePath,
		positions: make(map[string][]domain.Lot),
		log:       log,
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("ledger file unreadable, starting empty")
		}
		return l
	}

	var positions map[string][]domain.Lot
	if err := json.Unmarshal(data, &positions); err != nil {
		log.WithError(err).Warn("ledger file corrupt, starting empty")
		return l
	}

	l.positions = positions
	return l
}

// AddLot appends a lot to the wallet's position and persists before returning.
func (l *Ledger) AddLot(wallet string, lot domain.Lot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := strings.ToLower(wallet)
	lot.Token = strings.ToLower(lot.Token)
	l.positions[w] = append(l.positions[w], lot)
	return l.persistLocked()
}

// PopOldestLot removes and returns the single earliest lot matching
// (wallet, token). It returns nil when no such lot exists.
func (l *Ledger) PopOldestLot(wallet, token string) (*domain.Lot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := strings.ToLower(wallet)
	tok := strings.ToLower(token)

	lots := l.positions[w]
	for i, lot := range lots {
		if lot.Token == tok {
			removed := lot
			l.positions[w] = append(lots[:i:i], lots[i+1:]...)
			if len(l.positions[w]) == 0 {
				delete(l.positions, w)
			}
			if err := l.persistLocked(); err != nil {
				return &removed, err
			}
			return &removed, nil
		}
	}
	return nil, nil
}

// LotsForToken returns a copy of the open lots for (wallet, token) in FIFO
// order.
func (l *Ledger) LotsForToken(wallet, token string) []domain.Lot {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := strings.ToLower(wallet)
	tok := strings.ToLower(token)

	var out []domain.Lot
	for _, lot := range l.positions[w] {
		if lot.Token == tok {
			out = append(out, lot)
		}
	}
	return out
}

// UniqueTokens returns the distinct tokens with open lots for a wallet, in
// first-seen order.
func (l *Ledger) UniqueTokens(wallet string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, lot := range l.positions[strings.ToLower(wallet)] {
		if _, ok := seen[lot.Token]; ok {
			continue
		}
		seen[lot.Token] = struct{}{}
		out = append(out, lot.Token)
	}
	return out
}

// OpenLotCount returns the total number of open lots across all wallets.
func (l *Ledger) OpenLotCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, lots := range l.positions {
		n += len(lots)
	}
	return n
}

// persistLocked writes the full ledger atomically via temp file + rename.
// Callers hold l.mu.
func (l *Ledger) persistLocked() error {
	data, err := json.MarshalIndent(l.positions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(l.filePath)
	if dir != "" && dir != "." {
		os.MkdirAll(dir, 0700)
	}

	tempPath := l.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write ledger temp file: %w", err)
	}

	if err := os.Rename(tempPath, l.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save ledger file: %w", err)
	}

	return nil
}
