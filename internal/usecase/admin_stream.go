package usecase

import (
	"context"
	"time"

	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/rules"
)

// AdminStreamUseCase provides use cases for match stream administration.
type AdminStreamUseCase struct {
	repo    domain.StreamAdminRepository
	catalog *rules.Catalog
}

// NewAdminStreamUseCase creates a new AdminStreamUseCase. repo may be nil when
// matches are delivered directly and there is no stream to inspect.
func NewAdminStreamUseCase(repo domain.StreamAdminRepository, catalog *rules.Catalog) *AdminStreamUseCase {
	return &AdminStreamUseCase{repo: repo, catalog: catalog}
}

// StreamsEnabled reports whether stream operations are available.
func (uc *AdminStreamUseCase) StreamsEnabled() bool {
	return uc.repo != nil
}

// RuleSummary lists rule names per entity-type.
func (uc *AdminStreamUseCase) RuleSummary() domain.RuleSummary {
	summary := domain.RuleSummary{Tables: make(map[string][]string)}
	for _, table := range uc.catalog.Tables() {
		tableRules := uc.catalog.Rules(table)
		names := make([]string, len(tableRules))
		for i, r := range tableRules {
			names[i] = r.Name
		}
		summary.Tables[table] = names
		summary.Rules += len(names)
	}
	return summary
}

func (uc *AdminStreamUseCase) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	return uc.repo.GetGroupInfo(ctx, stream)
}

func (uc *AdminStreamUseCase) GetConsumerInfo(ctx context.Context, stream, group string) ([]domain.ConsumerInfo, error) {
	return uc.repo.GetConsumerInfo(ctx, stream, group)
}

func (uc *AdminStreamUseCase) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMatchSummary, error) {
	return uc.repo.GetPendingSummary(ctx, stream, group)
}

// GetPendingMessages lists pending matches, starting from the oldest and
// returning at most 100 unless q says otherwise.
func (uc *AdminStreamUseCase) GetPendingMessages(ctx context.Context, stream, group string, q domain.PendingMatchQuery) ([]domain.PendingMatchDetail, error) {
	if q.StartID == "" {
		q.StartID = "-"
	}
	if q.Count <= 0 {
		q.Count = 100
	}
	return uc.repo.GetPendingMessages(ctx, stream, group, q)
}

func (uc *AdminStreamUseCase) ClaimMessages(ctx context.Context, stream, group, consumer string, minIdleTime time.Duration, messageIDs []string) ([]domain.RuleMatch, error) {
	return uc.repo.ClaimMessages(ctx, stream, group, consumer, minIdleTime, messageIDs)
}

func (uc *AdminStreamUseCase) AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error) {
	return uc.repo.AcknowledgeMessages(ctx, stream, group, messageIDs...)
}

func (uc *AdminStreamUseCase) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	return uc.repo.TrimStream(ctx, stream, maxLen)
}
