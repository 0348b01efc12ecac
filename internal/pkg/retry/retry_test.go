package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestDo(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{Attempts: 3, Backoff: time.Millisecond}
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		failUntil int // attempts <= failUntil fail
		permanent bool
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt succeeds", failUntil: 0, wantCalls: 1},
		{name: "succeeds on last attempt", failUntil: 2, wantCalls: 3},
		{name: "exhausts attempts", failUntil: 5, wantCalls: 3, wantErr: true},
		{name: "permanent error stops early", failUntil: 5, permanent: true, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), cfg, logger, "test", func(attempt int) error {
				calls++
				if attempt != calls {
					t.Errorf("expected attempt %d, got %d", calls, attempt)
				}
				if attempt <= tt.failUntil {
					if tt.permanent {
						return Permanent(errBoom)
					}
					return errBoom
				}
				return nil
			})

			if (err != nil) != tt.wantErr {
				t.Fatalf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errBoom) {
				t.Errorf("expected wrapped boom error, got %v", err)
			}
			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
		})
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Config{Attempts: 5, Backoff: time.Hour}, logger, "test", func(int) error {
		calls++
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}
