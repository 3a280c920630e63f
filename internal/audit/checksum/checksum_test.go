package checksum

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaudit/internal/audit/models"
	dErrors "pharmaudit/pkg/domain-errors"
)

func sampleEvent() *models.AuditEvent {
	return &models.AuditEvent{
		EventType: models.EventPrescriptionDispensed,
		Entity:    models.Entity{Type: "Prescription", ID: "42", Identifier: "RX-0042"},
		Actor:     &models.Actor{UserID: "7", Name: "Dana Pharmacist", Type: "pharmacist"},
		OldValues: map[string]any{"status": "verified"},
		NewValues: map[string]any{"status": "dispensed", "quantity": 30},
		CreatedAt: time.Date(2025, 1, 15, 10, 30, 0, 123456000, time.UTC),
	}
}

func TestCompute_Deterministic(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, SHA3_256, BLAKE2b256} {
		t.Run(string(alg), func(t *testing.T) {
			h, err := New(string(alg))
			require.NoError(t, err)

			a, err := h.Compute(sampleEvent())
			require.NoError(t, err)
			b, err := h.Compute(sampleEvent())
			require.NoError(t, err)

			assert.Equal(t, a, b)
			assert.True(t, strings.HasPrefix(a, string(alg)+":"))
			assert.Len(t, strings.TrimPrefix(a, string(alg)+":"), 64)
		})
	}
}

func TestCompute_ChangesWithHashedFields(t *testing.T) {
	h, err := New("")
	require.NoError(t, err)
	base, err := h.Compute(sampleEvent())
	require.NoError(t, err)

	mutations := map[string]func(e *models.AuditEvent){
		"event type":   func(e *models.AuditEvent) { e.EventType = "prescription_viewed" },
		"entity id":    func(e *models.AuditEvent) { e.Entity.ID = "43" },
		"actor":        func(e *models.AuditEvent) { e.Actor = nil },
		"new values":   func(e *models.AuditEvent) { e.NewValues["quantity"] = 60 },
		"old values":   func(e *models.AuditEvent) { e.OldValues = nil },
		"created at":   func(e *models.AuditEvent) { e.CreatedAt = e.CreatedAt.Add(time.Microsecond) },
		"actor name":   func(e *models.AuditEvent) { e.Actor.Name = "Mallory" },
		"entity label": func(e *models.AuditEvent) { e.Entity.Identifier = "RX-9999" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := sampleEvent()
			mutate(e)
			got, err := h.Compute(e)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestCompute_TimezoneIndependent(t *testing.T) {
	h, err := New("sha256")
	require.NoError(t, err)
	utc := sampleEvent()
	local := sampleEvent()
	local.CreatedAt = local.CreatedAt.In(time.FixedZone("EST", -5*3600))

	a, _ := h.Compute(utc)
	b, _ := h.Compute(local)
	assert.Equal(t, a, b)
}

func TestVerify(t *testing.T) {
	h, err := New("sha3-256")
	require.NoError(t, err)

	e := sampleEvent()
	e.Checksum, err = h.Compute(e)
	require.NoError(t, err)

	t.Run("intact record verifies with any configured hasher", func(t *testing.T) {
		other, err := New("blake2b-256")
		require.NoError(t, err)
		ok, err := other.Verify(e)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tampered value is detected", func(t *testing.T) {
		tampered := sampleEvent()
		tampered.Checksum = e.Checksum
		tampered.NewValues["quantity"] = 300
		ok, err := Verify(tampered)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed checksum is an integrity error", func(t *testing.T) {
		bad := sampleEvent()
		bad.Checksum = "deadbeef"
		_, err := Verify(bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrity))

		bad.Checksum = "md5:deadbeef"
		_, err = Verify(bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrity))
	})
}

func TestNew_RejectsUnknownAlgorithm(t *testing.T) {
	_, err := New("md5")
	assert.Error(t, err)
}

func TestCompute_ConcurrentEventsAreIndependent(t *testing.T) {
	h, err := New("")
	require.NoError(t, err)

	var wg sync.WaitGroup
	sums := make([]string, 2)
	for i := range sums {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := sampleEvent()
			e.Entity.ID = []string{"1", "2"}[i]
			sums[i], _ = h.Compute(e)
		}()
	}
	wg.Wait()
	assert.NotEqual(t, sums[0], sums[1])
}
