package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/fleetgate/internal/domain"
)

// MockMatchQueue is a mock implementation of domain.MatchQueue for testing.
type MockMatchQueue struct {
	mu              sync.Mutex
	Published       []domain.RuleMatch
	AckedMessageIDs []string
	DLQMatches      []domain.RuleMatch
	ReadBatchResult []domain.RuleMatch
	PublishErr      error
	ReadErr         error
	AckErr          error
	DLQErr          error
}

func (m *MockMatchQueue) Publish(ctx context.Context, match domain.RuleMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Published = append(m.Published, match)
	return nil
}

func (m *MockMatchQueue) ReadMatchBatch(ctx context.Context, group, consumer string, count int) ([]domain.RuleMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return m.ReadBatchResult, nil
}

func (m *MockMatchQueue) AcknowledgeMatches(ctx context.Context, group string, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedMessageIDs = append(m.AckedMessageIDs, messageIDs...)
	return nil
}

func (m *MockMatchQueue) MoveToDLQ(ctx context.Context, matches []domain.RuleMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DLQErr != nil {
		return m.DLQErr
	}
	m.DLQMatches = append(m.DLQMatches, matches...)
	return nil
}

// PublishedMatches returns a copy of everything published so far.
func (m *MockMatchQueue) PublishedMatches() []domain.RuleMatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RuleMatch(nil), m.Published...)
}

// MockObjectStore records objects in memory. FailFirst makes the first N
// Put calls fail with PutErr.
type MockObjectStore struct {
	mu        sync.Mutex
	Objects   map[string][]byte
	Attempts  int
	FailFirst int
	PutErr    error
}

func (m *MockObjectStore) Put(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts++
	if m.PutErr != nil && (m.FailFirst == 0 || m.Attempts <= m.FailFirst) {
		return m.PutErr
	}
	if m.Objects == nil {
		m.Objects = make(map[string][]byte)
	}
	m.Objects[key] = append([]byte(nil), body...)
	return nil
}

// Keys returns the stored object keys.
func (m *MockObjectStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.Objects))
	for k := range m.Objects {
		keys = append(keys, k)
	}
	return keys
}

// MockNotifier records notifications. FailFor makes notifications for the
// named rules fail with NotifyErr.
type MockNotifier struct {
	mu        sync.Mutex
	Sent      []domain.Notification
	Calls     int
	NotifyErr error
	FailFor   map[string]bool
}

func (m *MockNotifier) Notify(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.NotifyErr != nil && (m.FailFor == nil || m.FailFor[n.RuleName]) {
		return m.NotifyErr
	}
	m.Sent = append(m.Sent, n)
	return nil
}

// MockNodeRepository records registry calls.
type MockNodeRepository struct {
	mu          sync.Mutex
	Registered  []domain.Node
	Touched     []string
	RegisterErr error
	TouchErr    error
}

func (m *MockNodeRepository) Register(ctx context.Context, node domain.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RegisterErr != nil {
		return m.RegisterErr
	}
	m.Registered = append(m.Registered, node)
	return nil
}

func (m *MockNodeRepository) Touch(ctx context.Context, hostIdentifier string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TouchErr != nil {
		return m.TouchErr
	}
	m.Touched = append(m.Touched, hostIdentifier)
	return nil
}

// MockAuthenticator accepts Secrets and issues NodeKey for each of them.
type MockAuthenticator struct {
	Secrets []string
	NodeKey string
}

func (m *MockAuthenticator) Enroll(secret string) (string, bool) {
	for _, s := range m.Secrets {
		if s == secret {
			return m.NodeKey, true
		}
	}
	return "", false
}

func (m *MockAuthenticator) ValidNodeKey(nodeKey string) bool {
	return nodeKey != "" && nodeKey == m.NodeKey
}

// MockStreamAdminRepository is a canned domain.StreamAdminRepository.
type MockStreamAdminRepository struct {
	Groups    []domain.ConsumerGroupInfo
	Consumers []domain.ConsumerInfo
	Summary   *domain.PendingMatchSummary
	Pending   []domain.PendingMatchDetail
	Claimed   []domain.RuleMatch
	AckCount  int64
	TrimCount int64
	Err       error
	LastQuery domain.PendingMatchQuery
}

func (m *MockStreamAdminRepository) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	return m.Groups, m.Err
}

func (m *MockStreamAdminRepository) GetConsumerInfo(ctx context.Context, stream, group string) ([]domain.ConsumerInfo, error) {
	return m.Consumers, m.Err
}

func (m *MockStreamAdminRepository) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMatchSummary, error) {
	return m.Summary, m.Err
}

func (m *MockStreamAdminRepository) GetPendingMessages(ctx context.Context, stream, group string, q domain.PendingMatchQuery) ([]domain.PendingMatchDetail, error) {
	m.LastQuery = q
	return m.Pending, m.Err
}

func (m *MockStreamAdminRepository) ClaimMessages(ctx context.Context, stream, group, consumer string, minIdleTime time.Duration, messageIDs []string) ([]domain.RuleMatch, error) {
	return m.Claimed, m.Err
}

func (m *MockStreamAdminRepository) AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error) {
	return m.AckCount, m.Err
}

func (m *MockStreamAdminRepository) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	return m.TrimCount, m.Err
}
