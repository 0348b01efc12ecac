package wal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/fleetgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestWAL(t *testing.T, maxSegmentSize, maxTotalSize int64) *MatchWAL {
	t.Helper()
	w, err := NewMatchWAL(t.TempDir(), maxSegmentSize, maxTotalSize, testLogger())
	if err != nil {
		t.Fatalf("failed to create MatchWAL: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func testMatch(rule string) domain.RuleMatch {
	return domain.RuleMatch{
		ID:         uuid.NewString(),
		EntityType: "kubernetes_pods",
		RuleName:   rule,
		Row:        json.RawMessage(`{"privileged":"1"}`),
		MatchedAt:  time.Date(2021, 5, 8, 23, 59, 59, 0, time.UTC),
	}
}

func TestWAL_WriteAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := NewMatchWAL(dir, 1024, 10*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to create MatchWAL: %v", err)
	}

	matches := []domain.RuleMatch{testMatch("a"), testMatch("b"), testMatch("c")}
	for _, m := range matches {
		if err := w.Write(context.Background(), m); err != nil {
			t.Fatalf("failed to write match: %v", err)
		}
	}
	w.Close()

	// Re-open to simulate a restart.
	w, err = NewMatchWAL(dir, 1024, 10*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to re-open WAL: %v", err)
	}
	defer w.Close()

	var replayed []domain.RuleMatch
	err = w.Replay(context.Background(), func(m domain.RuleMatch) error {
		replayed = append(replayed, m)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to replay: %v", err)
	}

	if len(replayed) != len(matches) {
		t.Fatalf("expected %d replayed matches, got %d", len(matches), len(replayed))
	}
	for i, m := range matches {
		got := replayed[i]
		if got.ID != m.ID || got.RuleName != m.RuleName || string(got.Row) != string(m.Row) || !got.MatchedAt.Equal(m.MatchedAt) {
			t.Errorf("replayed match mismatch at index %d: got %+v, want %+v", i, got, m)
		}
	}
}

func TestWAL_ReplayStopsOnHandlerError(t *testing.T) {
	w := setupTestWAL(t, 1024, 10*1024)
	for _, rule := range []string{"a", "b"} {
		if err := w.Write(context.Background(), testMatch(rule)); err != nil {
			t.Fatalf("failed to write match: %v", err)
		}
	}

	calls := 0
	err := w.Replay(context.Background(), func(domain.RuleMatch) error {
		calls++
		return errors.New("redis is down")
	})
	if err == nil {
		t.Fatal("expected replay to fail")
	}
	if calls != 1 {
		t.Errorf("expected replay to stop after the first failure, got %d calls", calls)
	}

	// Nothing was lost.
	count := 0
	if err := w.Replay(context.Background(), func(domain.RuleMatch) error { count++; return nil }); err != nil {
		t.Fatalf("second replay failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 matches on second replay, got %d", count)
	}
}

func TestWAL_SkipsCorruptLines(t *testing.T) {
	w := setupTestWAL(t, 1024, 10*1024)
	if err := w.Write(context.Background(), testMatch("a")); err != nil {
		t.Fatalf("failed to write match: %v", err)
	}
	w.Close()

	segments, err := w.segments()
	if err != nil || len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %v (%v)", segments, err)
	}
	f, err := os.OpenFile(segments[0].path, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		t.Fatalf("failed to open segment: %v", err)
	}
	f.WriteString("{not json\n")
	f.Close()

	count := 0
	if err := w.Replay(context.Background(), func(domain.RuleMatch) error { count++; return nil }); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 valid match, got %d", count)
	}
}

func TestWAL_SegmentRotation(t *testing.T) {
	w := setupTestWAL(t, 100, 10*1024)

	for i := 0; i < 4; i++ {
		if err := w.Write(context.Background(), testMatch("rotate")); err != nil {
			t.Fatalf("failed to write match: %v", err)
		}
	}

	segments, err := w.segments()
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(segments) < 2 {
		t.Errorf("expected at least 2 segments, got %d", len(segments))
	}
}

func TestWAL_Truncate(t *testing.T) {
	w := setupTestWAL(t, 1024, 10*1024)
	if err := w.Write(context.Background(), testMatch("a")); err != nil {
		t.Fatalf("failed to write match: %v", err)
	}

	if err := w.Truncate(context.Background()); err != nil {
		t.Fatalf("failed to truncate WAL: %v", err)
	}

	segments, _ := w.segments()
	if len(segments) != 1 {
		t.Fatalf("expected 1 fresh segment after truncate, got %d", len(segments))
	}
	if segments[0].size != 0 {
		t.Errorf("expected the new segment to be empty, size is %d", segments[0].size)
	}
	if filepath.Dir(segments[0].path) != w.dir {
		t.Errorf("segment created outside the WAL directory: %s", segments[0].path)
	}
}

func TestWAL_MaxTotalSize(t *testing.T) {
	w := setupTestWAL(t, 100, 300)

	var err error
	for i := 0; i < 10; i++ {
		if err = w.Write(context.Background(), testMatch("fill")); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull when writing beyond the disk budget, got %v", err)
	}
}
