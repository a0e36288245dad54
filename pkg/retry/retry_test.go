package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_SucceedsFirstAttempt(t *testing.T) {
	p := Policy{Attempts: 3, Interval: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicy_RetriesUntilSuccess(t *testing.T) {
	p := Policy{Attempts: 5, Interval: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPolicy_ExhaustsAttempts(t *testing.T) {
	p := Policy{Attempts: 4, Interval: time.Millisecond}

	wantErr := errors.New("boom")
	calls := 0
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		return wantErr
	})
	if err == nil {
		t.Fatal("Do() should fail after exhausting attempts")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("error %v should wrap %v", err, wantErr)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestPolicy_ContextCancelled(t *testing.T) {
	p := Policy{Attempts: 10, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func(attempt int) error {
		return errors.New("keep going")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestPolicy_WakeSkipsSleep(t *testing.T) {
	wake := make(chan struct{}, 1)
	p := Policy{Attempts: 2, Interval: time.Hour, Wake: wake}

	wake <- struct{}{}

	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), func(attempt int) error {
			if attempt == 1 {
				return errors.New("first miss")
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wake channel did not cut the sleep short")
	}
}
