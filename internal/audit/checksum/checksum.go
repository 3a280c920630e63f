// Package checksum computes and verifies tamper-evidence digests for audit
// events. Stored checksums are self-describing ("<algorithm>:<hex>") so a
// record stays verifiable after the configured algorithm changes.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"pharmaudit/internal/audit/models"
	dErrors "pharmaudit/pkg/domain-errors"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// ParseAlgorithm validates a configured algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if _, err := newHash(a); err != nil {
		return "", err
	}
	return a, nil
}

func newHash(a Algorithm) (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case BLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", a)
	}
}

// canonical is the fixed serialization that is hashed. Field order is the
// struct order; map keys are sorted by encoding/json.
type canonical struct {
	EventType        string         `json:"event_type"`
	EntityType       string         `json:"entity_type"`
	EntityID         string         `json:"entity_id"`
	EntityIdentifier string         `json:"entity_identifier"`
	ActorUserID      string         `json:"actor_user_id"`
	ActorName        string         `json:"actor_name"`
	ActorType        string         `json:"actor_type"`
	OldValues        map[string]any `json:"old_values"`
	NewValues        map[string]any `json:"new_values"`
	CreatedAt        string         `json:"created_at"`
}

// Canonical returns the bytes that are hashed for e.
func Canonical(e *models.AuditEvent) ([]byte, error) {
	c := canonical{
		EventType:        e.EventType,
		EntityType:       e.Entity.Type,
		EntityID:         e.Entity.ID,
		EntityIdentifier: e.Entity.Identifier,
		OldValues:        e.OldValues,
		NewValues:        e.NewValues,
		CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.Actor != nil {
		c.ActorUserID = e.Actor.UserID
		c.ActorName = e.Actor.Name
		c.ActorType = e.Actor.Type
	}
	return json.Marshal(c)
}

// Hasher computes checksums with one algorithm.
type Hasher struct {
	alg Algorithm
}

// New returns a Hasher for alg. An empty name selects SHA256.
func New(alg string) (*Hasher, error) {
	if strings.TrimSpace(alg) == "" {
		return &Hasher{alg: SHA256}, nil
	}
	a, err := ParseAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	return &Hasher{alg: a}, nil
}

// Algorithm reports the algorithm new checksums use.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Compute returns "<algorithm>:<hex digest>" for e.
func (h *Hasher) Compute(e *models.AuditEvent) (string, error) {
	digest, err := digestWith(h.alg, e)
	if err != nil {
		return "", err
	}
	return string(h.alg) + ":" + digest, nil
}

// Verify recomputes the checksum stored on e with the algorithm it names.
func (h *Hasher) Verify(e *models.AuditEvent) (bool, error) {
	return Verify(e)
}

// Verify recomputes the checksum stored on e with the algorithm it names.
func Verify(e *models.AuditEvent) (bool, error) {
	alg, want, ok := strings.Cut(e.Checksum, ":")
	if !ok || want == "" {
		return false, dErrors.New(dErrors.CodeIntegrity, "stored checksum is malformed")
	}
	got, err := digestWith(Algorithm(alg), e)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeIntegrity, "stored checksum uses an unknown algorithm")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(want))) == 1, nil
}

func digestWith(alg Algorithm, e *models.AuditEvent) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	payload, err := Canonical(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit event: %w", err)
	}
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
