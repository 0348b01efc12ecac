package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/V4T54L/fleetgate/internal/domain"
)

// NodeUseCase handles agent enrollment and node key checks.
type NodeUseCase struct {
	auth   domain.Authenticator
	nodes  domain.NodeRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewNodeUseCase creates a NodeUseCase. nodes may be nil when no registry is
// configured.
func NewNodeUseCase(auth domain.Authenticator, nodes domain.NodeRepository, logger *slog.Logger) *NodeUseCase {
	return &NodeUseCase{
		auth:   auth,
		nodes:  nodes,
		logger: logger.With("component", "nodes"),
		now:    time.Now,
	}
}

// Enroll exchanges an enroll secret for a node key. Registry failures are
// logged; they never fail the enrollment.
func (uc *NodeUseCase) Enroll(ctx context.Context, secret, hostIdentifier string, hostDetails json.RawMessage) (string, error) {
	nodeKey, ok := uc.auth.Enroll(secret)
	if !ok {
		uc.logger.Warn("enrollment rejected", "host_identifier", hostIdentifier)
		return "", domain.ErrInvalidSecret
	}

	if uc.nodes != nil {
		now := uc.now().UTC()
		node := domain.Node{
			HostIdentifier:     hostIdentifier,
			NodeKeyFingerprint: domain.NodeKeyFingerprint(nodeKey),
			HostDetails:        hostDetails,
			EnrolledAt:         now,
			LastSeen:           now,
		}
		if err := uc.nodes.Register(ctx, node); err != nil {
			uc.logger.Error("failed to register node", "host_identifier", hostIdentifier, "error", err)
		}
	}

	uc.logger.Info("node enrolled", "host_identifier", hostIdentifier)
	return nodeKey, nil
}

// Authenticate reports whether nodeKey was issued by this deployment.
func (uc *NodeUseCase) Authenticate(nodeKey string) error {
	if nodeKey == "" || !uc.auth.ValidNodeKey(nodeKey) {
		return domain.ErrInvalidNodeKey
	}
	return nil
}

// Seen records activity for the hosts that reported in a batch.
func (uc *NodeUseCase) Seen(ctx context.Context, records []domain.IncomingRecord) {
	if uc.nodes == nil {
		return
	}
	now := uc.now().UTC()
	seen := make(map[string]struct{})
	for _, record := range records {
		host := record.HostIdentifier
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		if err := uc.nodes.Touch(ctx, host, now); err != nil {
			uc.logger.Warn("failed to update node last_seen", "host_identifier", host, "error", err)
		}
	}
}
