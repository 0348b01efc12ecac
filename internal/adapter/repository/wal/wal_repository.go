package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/fleetgate/internal/domain"
)

const (
	segmentPrefix = "matches-"
	segmentSuffix = ".wal"
	filePerm      = 0o644
	dirPerm       = 0o755

	// Rows can be large; allow lines well past bufio's 64KB default.
	maxLineSize = 4 << 20
)

// ErrFull is returned when a write would push the log past its disk budget.
var ErrFull = errors.New("match WAL is full")

type segment struct {
	path string
	size int64
}

// MatchWAL is a segmented, file-backed log of rule matches. The match queue
// writes here while Redis is unreachable and replays it on recovery.
type MatchWAL struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu      sync.Mutex
	current *os.File
	size    int64
}

// NewMatchWAL opens (or creates) the log in dir, appending to the newest
// segment left behind by a previous run.
func NewMatchWAL(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*MatchWAL, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}

	w := &MatchWAL{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "match_wal"),
	}
	if err := w.openLatest(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends a match as one JSON line.
func (w *MatchWAL) Write(ctx context.Context, match domain.RuleMatch) error {
	line, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to encode match for WAL: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	segments, err := w.segments()
	if err != nil {
		return fmt.Errorf("could not verify WAL disk usage: %w", err)
	}
	var total int64
	for _, s := range segments {
		total += s.size
	}
	if total+int64(len(line)) > w.maxTotalSize {
		return fmt.Errorf("%w: %d of %d bytes used", ErrFull, total, w.maxTotalSize)
	}

	n, err := w.current.Write(line)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append to WAL segment: %w", err)
	}

	if w.size >= w.maxSegmentSize {
		if err := w.rotate(); err != nil {
			w.logger.Error("failed to rotate WAL segment", "error", err)
		}
	}
	return nil
}

// Replay hands every stored match to handler, oldest segment first. Lines
// that cannot be decoded are skipped. The first handler error aborts the
// replay and leaves the log untouched.
func (w *MatchWAL) Replay(ctx context.Context, handler func(match domain.RuleMatch) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.closeCurrent(); err != nil {
		w.logger.Warn("failed to close WAL segment before replay", "error", err)
	}

	segments, err := w.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}

	replayed := 0
	for _, s := range segments {
		n, err := replaySegment(ctx, s.path, handler, w.logger)
		replayed += n
		if err != nil {
			return err
		}
	}
	w.logger.Info("WAL replay completed", "segments", len(segments), "matches", replayed)
	return nil
}

func replaySegment(ctx context.Context, path string, handler func(domain.RuleMatch) error, logger *slog.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open WAL segment %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var match domain.RuleMatch
		if err := json.Unmarshal(scanner.Bytes(), &match); err != nil {
			logger.Warn("skipping undecodable WAL entry", "segment", path, "error", err)
			continue
		}
		if err := handler(match); err != nil {
			return n, fmt.Errorf("replay handler failed: %w", err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("error reading WAL segment %s: %w", path, err)
	}
	return n, nil
}

// Truncate deletes every segment and starts a fresh one.
func (w *MatchWAL) Truncate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.closeCurrent(); err != nil {
		w.logger.Warn("failed to close WAL segment before truncate", "error", err)
	}

	segments, err := w.segments()
	if err != nil {
		return err
	}
	for _, s := range segments {
		if err := os.Remove(s.path); err != nil {
			w.logger.Error("failed to remove WAL segment", "path", s.path, "error", err)
		}
	}
	return w.rotate()
}

// Close flushes and closes the active segment.
func (w *MatchWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCurrent()
}

func (w *MatchWAL) closeCurrent() error {
	if w.current == nil {
		return nil
	}
	err := errors.Join(w.current.Sync(), w.current.Close())
	w.current = nil
	w.size = 0
	return err
}

func (w *MatchWAL) rotate() error {
	if err := w.closeCurrent(); err != nil {
		w.logger.Warn("failed to close WAL segment while rotating", "error", err)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, time.Now().UnixNano(), segmentSuffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create WAL segment %s: %w", path, err)
	}
	w.current = f
	w.size = 0
	w.logger.Debug("opened new WAL segment", "path", path)
	return nil
}

func (w *MatchWAL) openLatest() error {
	segments, err := w.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return w.rotate()
	}

	latest := segments[len(segments)-1]
	if latest.size >= w.maxSegmentSize {
		return w.rotate()
	}
	f, err := os.OpenFile(latest.path, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment %s: %w", latest.path, err)
	}
	w.current = f
	w.size = latest.size
	w.logger.Info("resuming WAL segment", "path", latest.path, "size", latest.size)
	return nil
}

// segments lists segment files in creation order. Names embed a zero-padded
// timestamp, so lexical order is creation order.
func (w *MatchWAL) segments() ([]segment, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var out []segment
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, segment{path: filepath.Join(w.dir, name), size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}
