package retry

import (
	"errors"
	"testing"
	"time"
)

func TestBackoffInitialState(t *testing.T) {
	bo := NewBackoff(time.Second, 2, time.Minute)

	select {
	case <-time.After(time.Millisecond):
		t.Fatal("backoff should not have blocked execution")
	case <-bo.After():
		return
	}
}

func TestBackoff(t *testing.T) {
	bo := NewBackoff(time.Second, 2, time.Minute)
	bo.Backoff()

	select {
	case <-time.After(time.Millisecond):
		return
	case <-bo.After():
		t.Fatal("backoff should have delayed execution")
	}
}

func TestBackoffFixedInterval(t *testing.T) {
	bo := NewBackoff(100*time.Millisecond, 0, 100*time.Millisecond)
	bo.Backoff()
	first := bo.duration
	bo.Backoff()
	second := bo.duration

	if first != 100*time.Millisecond || second != 100*time.Millisecond {
		t.Fatalf("expected a constant 100ms interval, got %v then %v", first, second)
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	bo := NewBackoff(time.Millisecond, 0, time.Millisecond)

	err := Retry(5, bo, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	bo := NewBackoff(time.Millisecond, 0, time.Millisecond)
	wantErr := errors.New("boom")

	attempts := 0
	err := Retry(3, bo, func() error {
		attempts++
		return wantErr
	})

	if err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}
