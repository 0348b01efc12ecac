// Package auth issues and checks node keys derived from enroll secrets.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const nodeKeyContext = "fleetgate-node-key"

// SecretAuthenticator implements domain.Authenticator. Node keys are
// hex(HMAC-SHA256(secret, "fleetgate-node-key")), so every instance derives
// the same allow-list from configuration alone.
type SecretAuthenticator struct {
	secrets  [][]byte
	nodeKeys [][]byte
}

// NewSecretAuthenticator ignores empty secrets.
func NewSecretAuthenticator(secrets []string) *SecretAuthenticator {
	a := &SecretAuthenticator{}
	for _, s := range secrets {
		if s == "" {
			continue
		}
		a.secrets = append(a.secrets, []byte(s))
		a.nodeKeys = append(a.nodeKeys, []byte(DeriveNodeKey(s)))
	}
	return a
}

// DeriveNodeKey returns the node key issued for secret.
func DeriveNodeKey(secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(nodeKeyContext))
	return hex.EncodeToString(mac.Sum(nil))
}

// Enroll compares secret against every configured secret without
// short-circuiting.
func (a *SecretAuthenticator) Enroll(secret string) (string, bool) {
	match := -1
	for i, s := range a.secrets {
		if subtle.ConstantTimeCompare(s, []byte(secret)) == 1 {
			match = i
		}
	}
	if match < 0 {
		return "", false
	}
	return string(a.nodeKeys[match]), true
}

func (a *SecretAuthenticator) ValidNodeKey(nodeKey string) bool {
	ok := false
	for _, k := range a.nodeKeys {
		if hmac.Equal(k, []byte(nodeKey)) {
			ok = true
		}
	}
	return ok
}
