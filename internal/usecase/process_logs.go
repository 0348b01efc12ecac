package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
	"github.com/V4T54L/fleetgate/internal/adapter/pii"
	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/pkg/retry"
)

const (
	defaultUploadConcurrency = 8
	defaultMatchWorkers      = 8
	defaultRetryCount        = 3
	defaultRetryBackoff      = 500 * time.Millisecond
	maxRetryBackoff          = 5 * time.Second
)

// ProcessLogsConfig tunes the upload and dispatch stages.
type ProcessLogsConfig struct {
	KeyPrefix         string
	UploadRetries     int
	UploadBackoff     time.Duration
	UploadConcurrency int
	MatchWorkers      int
}

// ProcessSummary reports what happened to one batch of result records.
type ProcessSummary struct {
	Records        int
	Rejected       int
	Buckets        int
	Uploaded       int
	UploadFailed   int
	Matches        int
	DispatchFailed int
}

// ProcessLogsUseCase partitions result records, stores every partition and
// dispatches rule matches.
type ProcessLogsUseCase struct {
	store     domain.ObjectStore
	sink      domain.MatchSink
	evaluator *RuleEvaluator
	redactor  *pii.Redactor
	metrics   *metrics.IngestMetrics
	logger    *slog.Logger
	cfg       ProcessLogsConfig
	newID     func() string
}

// NewProcessLogsUseCase creates a new use case for processing result logs.
// redactor and m may be nil.
func NewProcessLogsUseCase(store domain.ObjectStore, sink domain.MatchSink, evaluator *RuleEvaluator, redactor *pii.Redactor, m *metrics.IngestMetrics, logger *slog.Logger, cfg ProcessLogsConfig) *ProcessLogsUseCase {
	if cfg.UploadRetries < 1 {
		cfg.UploadRetries = defaultRetryCount
	}
	if cfg.UploadBackoff <= 0 {
		cfg.UploadBackoff = defaultRetryBackoff
	}
	if cfg.UploadConcurrency < 1 {
		cfg.UploadConcurrency = defaultUploadConcurrency
	}
	if cfg.MatchWorkers < 1 {
		cfg.MatchWorkers = defaultMatchWorkers
	}
	return &ProcessLogsUseCase{
		store:     store,
		sink:      sink,
		evaluator: evaluator,
		redactor:  redactor,
		metrics:   m,
		logger:    logger.With("component", "process_logs"),
		cfg:       cfg,
		newID:     uuid.NewString,
	}
}

// ProcessResults runs one batch through the pipeline. Upload and rule
// dispatch run concurrently over the same read-only dataset and the call
// returns once both are finished. Delivery failures are logged and counted,
// never returned.
func (uc *ProcessLogsUseCase) ProcessResults(ctx context.Context, records []domain.IncomingRecord) ProcessSummary {
	// The agent may hang up; delivery still runs to completion.
	ctx = context.WithoutCancel(ctx)
	ctx, span := otel.Tracer("fleetgate/usecase").Start(ctx, "ProcessResults")
	defer span.End()

	summary := ProcessSummary{Records: len(records)}

	dataset, rejected := Partition(records)
	summary.Rejected = len(rejected)
	for _, recErr := range rejected {
		uc.logger.Warn("skipping malformed record", "index", recErr.Index, "name", recErr.Name, "error", recErr.Err)
	}
	if uc.metrics != nil {
		uc.metrics.RecordsTotal.WithLabelValues("accepted").Add(float64(dataset.RowCount()))
		uc.metrics.RecordsTotal.WithLabelValues("rejected").Add(float64(len(rejected)))
	}

	if n := uc.redactor.RedactDataset(dataset); n > 0 {
		uc.logger.Debug("redacted rows", "count", n)
	}

	buckets := dataset.Buckets()
	summary.Buckets = len(buckets)
	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("rejected", len(rejected)),
		attribute.Int("buckets", len(buckets)),
	)
	if len(buckets) == 0 {
		return summary
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		summary.Uploaded, summary.UploadFailed = uc.uploadAll(ctx, buckets)
	}()
	go func() {
		defer wg.Done()
		summary.Matches, summary.DispatchFailed = uc.dispatchMatches(ctx, dataset)
	}()
	wg.Wait()

	if summary.UploadFailed > 0 || summary.DispatchFailed > 0 {
		span.SetStatus(codes.Error, "delivery incomplete")
	}
	uc.logger.Info("processed result batch",
		"records", summary.Records,
		"rejected", summary.Rejected,
		"buckets", summary.Buckets,
		"uploaded", summary.Uploaded,
		"upload_failed", summary.UploadFailed,
		"matches", summary.Matches,
		"dispatch_failed", summary.DispatchFailed,
	)
	return summary
}

func (uc *ProcessLogsUseCase) uploadAll(ctx context.Context, buckets []domain.Bucket) (uploaded, failed int) {
	ctx, span := otel.Tracer("fleetgate/usecase").Start(ctx, "UploadPartitions")
	defer span.End()

	var ok, bad atomic.Int64
	var g errgroup.Group
	g.SetLimit(uc.cfg.UploadConcurrency)
	for _, bucket := range buckets {
		g.Go(func() error {
			if err := uc.uploadBucket(ctx, bucket); err != nil {
				bad.Add(1)
				uc.logger.Error("failed to upload partition after retries", "entity_type", bucket.EntityType, "day", bucket.Day, "rows", len(bucket.Rows), "error", err)
				if uc.metrics != nil {
					uc.metrics.UploadsTotal.WithLabelValues("failed").Inc()
				}
				return nil
			}
			ok.Add(1)
			if uc.metrics != nil {
				uc.metrics.UploadsTotal.WithLabelValues("success").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

// uploadBucket writes one NDJSON object per attempt. Every attempt uses a
// fresh key, so a retry after a partial failure adds an object instead of
// overwriting one.
func (uc *ProcessLogsUseCase) uploadBucket(ctx context.Context, bucket domain.Bucket) error {
	body, err := EncodeNDJSON(bucket.Rows)
	if err != nil {
		return retry.Permanent(fmt.Errorf("encoding partition: %w", err))
	}

	cfg := retry.Config{Attempts: uc.cfg.UploadRetries, Backoff: uc.cfg.UploadBackoff, MaxBackoff: maxRetryBackoff}
	return retry.Do(ctx, cfg, uc.logger, "upload_partition", func(attempt int) error {
		key := PartitionKey(uc.cfg.KeyPrefix, bucket.EntityType, bucket.Day, uc.newID())
		return uc.store.Put(ctx, key, body)
	})
}

func (uc *ProcessLogsUseCase) dispatchMatches(ctx context.Context, dataset domain.PartitionedDataset) (matched, failed int) {
	ctx, span := otel.Tracer("fleetgate/usecase").Start(ctx, "EvaluateRules")
	defer span.End()

	matches := uc.evaluator.Evaluate(dataset)
	span.SetAttributes(attribute.Int("matches", len(matches)))
	if len(matches) == 0 {
		return 0, 0
	}

	var bad atomic.Int64
	var g errgroup.Group
	g.SetLimit(uc.cfg.MatchWorkers)
	for _, match := range matches {
		if uc.metrics != nil {
			uc.metrics.MatchesTotal.WithLabelValues(match.EntityType).Inc()
		}
		g.Go(func() error {
			if err := uc.sink.Publish(ctx, match); err != nil {
				bad.Add(1)
				uc.logger.Error("failed to dispatch rule match", "match_id", match.ID, "entity_type", match.EntityType, "rule", match.RuleName, "error", err)
				if uc.metrics != nil {
					uc.metrics.DispatchFailures.Inc()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(matches), int(bad.Load())
}

// PartitionKey builds the object key "[prefix/]entity/day=YYYYMMDD/<id>.json".
func PartitionKey(prefix, entityType, day, id string) string {
	return path.Join(prefix, entityType, "day="+day, id+".json")
}

// EncodeNDJSON renders rows as newline-delimited JSON.
func EncodeNDJSON(rows []domain.NormalizedRow) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
