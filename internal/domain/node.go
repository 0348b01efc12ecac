package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidSecret  = errors.New("invalid enroll secret")
	ErrInvalidNodeKey = errors.New("invalid node key")
)

// Node is an enrolled agent.
type Node struct {
	HostIdentifier     string          `json:"host_identifier"`
	NodeKeyFingerprint string          `json:"node_key_fingerprint"`
	HostDetails        json.RawMessage `json:"host_details,omitempty"`
	EnrolledAt         time.Time       `json:"enrolled_at"`
	LastSeen           time.Time       `json:"last_seen"`
}

// NodeKeyFingerprint identifies a node key in storage and logs without
// revealing it.
func NodeKeyFingerprint(nodeKey string) string {
	sum := sha256.Sum256([]byte(nodeKey))
	return hex.EncodeToString(sum[:8])
}
