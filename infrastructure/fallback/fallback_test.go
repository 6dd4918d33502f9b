package fallback

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHandler_ExecuteReturnsPrimaryOnSuccess(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	res := h.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return "primary-value", nil
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != "primary-value" || res.Source != "primary" || res.Attempts != 1 {
		t.Fatalf("got %+v", res)
	}
}

func TestHandler_ExecuteFallsBackAfterPrimaryFails(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	res := h.Execute(context.Background(),
		func(ctx context.Context) (any, error) { return nil, errors.New("primary down") },
		func(ctx context.Context) (any, error) { return "fallback-value", nil },
	)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != "fallback-value" || res.Source != "fallback" || res.Attempts != 2 {
		t.Fatalf("got %+v", res)
	}
}

func TestHandler_ExecuteExhaustsAllAttempts(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	failing := func(ctx context.Context) (any, error) { return nil, errors.New("down") }
	res := h.Execute(context.Background(), failing, failing)

	if res.Source != "exhausted" || res.Attempts != 2 {
		t.Fatalf("got %+v", res)
	}
	if res.Err == nil {
		t.Fatalf("expected the last error to be returned")
	}
}

func TestHandler_ExecuteHonorsContextCancellation(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Second, MaxDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	failing := func(ctx context.Context) (any, error) { return nil, errors.New("down") }
	res := h.Execute(ctx, failing, failing)

	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("got err %v, want context.Canceled", res.Err)
	}
}
