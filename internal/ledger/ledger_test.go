package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RenZ1z/copytrade-base/internal/domain"
	"github.com/RenZ1z/copytrade-base/internal/logger"
)

const (
	testWallet = "0xAbCd000000000000000000000000000000000001"
	testToken  = "0x1234000000000000000000000000000000000002"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "positions.json")
	return Load(path, logger.NewNop()), path
}

func lot(trigger string, usd float64) domain.Lot {
	return domain.Lot{
		Token:       testToken,
		WhaleTxHash: trigger,
		MyTxHash:    "0xmine-" + trigger,
		AmountUSD:   usd,
		Timestamp:   time.Now().UTC(),
	}
}

func TestLedger_AddAndPopFIFO(t *testing.T) {
	l, _ := newTestLedger(t)

	for i, trigger := range []string{"0xt1", "0xt2", "0xt3"} {
		if err := l.AddLot(testWallet, lot(trigger, float64(100+i))); err != nil {
			t.Fatalf("AddLot() error = %v", err)
		}
	}

	// Lots must come back oldest-first regardless of pop count.
	for _, want := range []string{"0xt1", "0xt2", "0xt3"} {
		got, err := l.PopOldestLot(testWallet, testToken)
		if err != nil {
			t.Fatalf("PopOldestLot() error = %v", err)
		}
		if got == nil {
			t.Fatalf("PopOldestLot() = nil, want lot %s", want)
		}
		if got.WhaleTxHash != want {
			t.Errorf("popped trigger = %s, want %s", got.WhaleTxHash, want)
		}
	}

	if got, _ := l.PopOldestLot(testWallet, testToken); got != nil {
		t.Errorf("PopOldestLot() on empty position = %+v, want nil", got)
	}
}

func TestLedger_PopMatchesTokenOnly(t *testing.T) {
	l, _ := newTestLedger(t)

	otherToken := "0x9999000000000000000000000000000000000009"
	a := lot("0xa", 10)
	b := lot("0xb", 20)
	b.Token = otherToken

	if err := l.AddLot(testWallet, a); err != nil {
		t.Fatalf("AddLot() error = %v", err)
	}
	if err := l.AddLot(testWallet, b); err != nil {
		t.Fatalf("AddLot() error = %v", err)
	}

	got, err := l.PopOldestLot(testWallet, otherToken)
	if err != nil {
		t.Fatalf("PopOldestLot() error = %v", err)
	}
	if got == nil || got.WhaleTxHash != "0xb" {
		t.Fatalf("popped = %+v, want lot 0xb", got)
	}

	remaining := l.LotsForToken(testWallet, testToken)
	if len(remaining) != 1 {
		t.Errorf("remaining lots = %d, want 1", len(remaining))
	}
}

func TestLedger_PersistAcrossReload(t *testing.T) {
	l, path := newTestLedger(t)

	if err := l.AddLot(testWallet, lot("0xt1", 50)); err != nil {
		t.Fatalf("AddLot() error = %v", err)
	}
	if err := l.AddLot(testWallet, lot("0xt2", 60)); err != nil {
		t.Fatalf("AddLot() error = %v", err)
	}

	reloaded := Load(path, logger.NewNop())
	lots := reloaded.LotsForToken(testWallet, testToken)
	if len(lots) != 2 {
		t.Fatalf("reloaded lots = %d, want 2", len(lots))
	}
	if lots[0].WhaleTxHash != "0xt1" || lots[1].WhaleTxHash != "0xt2" {
		t.Error("reloaded lots lost FIFO order")
	}
}

func TestLedger_AddressesCaseInsensitive(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.AddLot(testWallet, lot("0xt1", 10)); err != nil {
		t.Fatalf("AddLot() error = %v", err)
	}

	// Same wallet and token in a different case must hit the same position.
	got, err := l.PopOldestLot(
		"0xABCD000000000000000000000000000000000001",
		"0x1234000000000000000000000000000000000002",
	)
	if err != nil {
		t.Fatalf("PopOldestLot() error = %v", err)
	}
	if got == nil {
		t.Fatal("case-folded lookup missed the lot")
	}
}

func TestLedger_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	l := Load(path, logger.NewNop())
	if n := l.OpenLotCount(); n != 0 {
		t.Errorf("OpenLotCount() = %d, want 0 after corrupt load", n)
	}

	// The ledger must still be writable after a corrupt load.
	if err := l.AddLot(testWallet, lot("0xt1", 10)); err != nil {
		t.Fatalf("AddLot() after corrupt load error = %v", err)
	}
}

func TestLedger_MissingFileStartsEmpty(t *testing.T) {
	l := Load(filepath.Join(t.TempDir(), "nope", "positions.json"), logger.NewNop())
	if n := l.OpenLotCount(); n != 0 {
		t.Errorf("OpenLotCount() = %d, want 0", n)
	}
}

func TestLedger_UniqueTokens(t *testing.T) {
	l, _ := newTestLedger(t)

	other := "0x9999000000000000000000000000000000000009"
	a := lot("0xa", 10)
	b := lot("0xb", 20)
	b.Token = other
	c := lot("0xc", 30)

	for _, lt := range []domain.Lot{a, b, c} {
		if err := l.AddLot(testWallet, lt); err != nil {
			t.Fatalf("AddLot() error = %v", err)
		}
	}

	tokens := l.UniqueTokens(testWallet)
	if len(tokens) != 2 {
		t.Fatalf("UniqueTokens() = %v, want 2 entries", tokens)
	}
}
