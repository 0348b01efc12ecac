package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
	"github.com/V4T54L/fleetgate/internal/domain"
)

const (
	upsertNodeQuery = `
INSERT INTO nodes (host_identifier, node_key_fingerprint, host_details, enrolled_at, last_seen)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (host_identifier) DO UPDATE SET
	node_key_fingerprint = EXCLUDED.node_key_fingerprint,
	host_details = EXCLUDED.host_details,
	enrolled_at = EXCLUDED.enrolled_at,
	last_seen = EXCLUDED.last_seen`

	touchNodeQuery = `UPDATE nodes SET last_seen = $2 WHERE host_identifier = $1 AND last_seen < $2`
)

// NodeRepository implements domain.NodeRepository on PostgreSQL. Touch is
// throttled per host by an in-memory cache so busy agents cost at most one
// write per interval.
type NodeRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	metrics  *metrics.IngestMetrics
	interval time.Duration

	mu        sync.Mutex
	lastWrite map[string]time.Time
}

// NewNodeRepository creates a node registry. m may be nil.
func NewNodeRepository(db *sql.DB, interval time.Duration, m *metrics.IngestMetrics, logger *slog.Logger) *NodeRepository {
	return &NodeRepository{
		db:        db,
		logger:    logger.With("component", "node_repository"),
		metrics:   m,
		interval:  interval,
		lastWrite: make(map[string]time.Time),
	}
}

// Register upserts an enrolled node. Re-enrollment refreshes every field.
func (r *NodeRepository) Register(ctx context.Context, node domain.Node) error {
	var details any
	if len(node.HostDetails) > 0 {
		details = string(node.HostDetails)
	}

	_, err := r.db.ExecContext(ctx, upsertNodeQuery,
		node.HostIdentifier,
		node.NodeKeyFingerprint,
		details,
		node.EnrolledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register node %s: %w", node.HostIdentifier, describe(err))
	}

	r.mu.Lock()
	r.lastWrite[node.HostIdentifier] = node.EnrolledAt
	r.mu.Unlock()
	return nil
}

// Touch updates last_seen unless the host was written within the interval.
func (r *NodeRepository) Touch(ctx context.Context, hostIdentifier string, seenAt time.Time) error {
	r.mu.Lock()
	last, found := r.lastWrite[hostIdentifier]
	if found && seenAt.Sub(last) < r.interval {
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.NodeTouchCacheHits.Inc()
		}
		return nil
	}
	// Claim the slot before the write so concurrent batches from the same
	// host do not all hit the database.
	r.lastWrite[hostIdentifier] = seenAt
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.NodeTouchCacheMisses.Inc()
	}

	if _, err := r.db.ExecContext(ctx, touchNodeQuery, hostIdentifier, seenAt); err != nil {
		// Don't cache failures; the next batch retries.
		r.mu.Lock()
		if r.lastWrite[hostIdentifier].Equal(seenAt) {
			if found {
				r.lastWrite[hostIdentifier] = last
			} else {
				delete(r.lastWrite, hostIdentifier)
			}
		}
		r.mu.Unlock()
		return fmt.Errorf("failed to update last_seen for %s: %w", hostIdentifier, describe(err))
	}
	return nil
}

// describe adds the server-side error code to Postgres errors.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w (code %s: %s)", err, pqErr.Code, pqErr.Code.Name())
	}
	return err
}
