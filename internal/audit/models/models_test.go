package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
)

func TestRiskLevel_Escalate(t *testing.T) {
	assert.Equal(t, RiskMedium, RiskLow.Escalate())
	assert.Equal(t, RiskHigh, RiskMedium.Escalate())
	assert.Equal(t, RiskCritical, RiskHigh.Escalate())
	assert.Equal(t, RiskCritical, RiskCritical.Escalate())
}

func TestRiskLevel_AtLeast(t *testing.T) {
	assert.Equal(t, RiskHigh, RiskLow.AtLeast(RiskHigh))
	assert.Equal(t, RiskCritical, RiskCritical.AtLeast(RiskMedium))
}

func TestParseEnums(t *testing.T) {
	r, err := ParseRiskLevel(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, r)

	_, err = ParseRiskLevel("severe")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	c, err := ParseDataClassification("PHI")
	require.NoError(t, err)
	assert.Equal(t, ClassPHI, c)

	_, err = ParseDataClassification("secret")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestRecordRequest_Validate(t *testing.T) {
	ptr := func(i int) *int { return &i }

	tests := []struct {
		name      string
		req       *RecordRequest
		wantField string
	}{
		{"nil request", nil, ""},
		{"missing event type", &RecordRequest{}, "event_type"},
		{"oversized event type", &RecordRequest{EventType: strings.Repeat("a", 101)}, "event_type"},
		{"malformed event type", &RecordRequest{EventType: "Login Failed"}, "event_type"},
		{"bad ip", &RecordRequest{EventType: "login", IP: "300.1.1.1"}, "ip"},
		{"unknown risk level", &RecordRequest{EventType: "login", RiskLevel: "severe"}, "risk_level"},
		{"unknown classification", &RecordRequest{EventType: "login", DataClassification: "secret"}, "data_classification"},
		{"zero retention", &RecordRequest{EventType: "login", RetentionYears: ptr(0)}, "retention_years"},
		{"negative retention", &RecordRequest{EventType: "login", RetentionYears: ptr(-3)}, "retention_years"},
		{"bad response status", &RecordRequest{EventType: "login", ResponseStatus: ptr(42)}, "response_status"},
		{"actor without id", &RecordRequest{EventType: "login", Actor: &ActorRequest{Name: "Dana"}}, "actor.user_id"},
		{"oversized values", &RecordRequest{EventType: "login", NewValues: map[string]any{"blob": strings.Repeat("x", 70<<10)}}, "new_values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Normalize()
			err := tt.req.Validate()
			require.Error(t, err)
			if tt.wantField == "" {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
				return
			}
			de, ok := dErrors.As(err)
			require.True(t, ok)
			assert.Equal(t, dErrors.CodeValidation, de.Code)
			assert.Equal(t, tt.wantField, de.Field)
		})
	}

	t.Run("first oversized field is reported", func(t *testing.T) {
		long := strings.Repeat("x", 300)
		req := &RecordRequest{EventType: "login", EntityType: long, EntityID: OpaqueID(long), Route: long}
		for range 20 {
			de, ok := dErrors.As(req.Validate())
			require.True(t, ok)
			assert.Equal(t, "entity_type", de.Field)
		}

		big := map[string]any{"blob": strings.Repeat("x", 70<<10)}
		req = &RecordRequest{EventType: "login", OldValues: big, NewValues: big, Metadata: big}
		for range 20 {
			de, ok := dErrors.As(req.Validate())
			require.True(t, ok)
			assert.Equal(t, "old_values", de.Field)
		}
	})

	t.Run("valid minimal request", func(t *testing.T) {
		req := &RecordRequest{EventType: "  Prescription_Dispensed ", RetentionYears: ptr(10)}
		req.Normalize()
		require.NoError(t, req.Validate())
		assert.Equal(t, "prescription_dispensed", req.EventType)
	})

	t.Run("empty actor collapses to system", func(t *testing.T) {
		req := &RecordRequest{EventType: "login", Actor: &ActorRequest{UserID: "  "}}
		req.Normalize()
		assert.Nil(t, req.Actor)
		assert.NoError(t, req.Validate())
	})
}

func TestOpaqueID_UnmarshalJSON(t *testing.T) {
	var req RecordRequest
	require.NoError(t, json.Unmarshal([]byte(`{"event_type":"x","entity_id":42,"actor":{"user_id":"u-7"}}`), &req))
	assert.Equal(t, OpaqueID("42"), req.EntityID)
	assert.Equal(t, OpaqueID("u-7"), req.Actor.UserID)

	assert.Error(t, json.Unmarshal([]byte(`{"entity_id":4.2}`), &req))
	assert.Error(t, json.Unmarshal([]byte(`{"entity_id":{}}`), &req))
}

func TestAuditEvent_IsExpired(t *testing.T) {
	created := time.Date(2018, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &AuditEvent{CreatedAt: created, RetentionYears: 7}

	assert.False(t, e.IsExpired(created.AddDate(7, 0, 0).Add(-time.Second)))
	assert.True(t, e.IsExpired(created.AddDate(7, 0, 0)))

	e.IsArchived = true
	assert.False(t, e.IsExpired(created.AddDate(20, 0, 0)))

	t.Run("leap day expires on Feb 28", func(t *testing.T) {
		e := &AuditEvent{CreatedAt: time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC), RetentionYears: 1}
		assert.Equal(t, time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC), e.RetentionExpiresAt())
		assert.True(t, e.IsExpired(time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC)))
	})
}

func TestEventFilter_Matches(t *testing.T) {
	at := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	e := &AuditEvent{
		EventType:             EventPrescriptionDispensed,
		Actor:                 &Actor{UserID: "42"},
		IsControlledSubstance: true,
		RiskLevel:             RiskHigh,
		DataClassification:    ClassConfidential,
		AccessGranted:         true,
		CreatedAt:             at,
	}
	from := at.Add(-time.Hour)
	to := at

	assert.True(t, EventFilter{ControlledOnly: true, UserID: "42"}.Matches(e))
	assert.True(t, EventFilter{MinRiskLevel: RiskMedium}.Matches(e))
	assert.False(t, EventFilter{MinRiskLevel: RiskCritical}.Matches(e))
	assert.False(t, EventFilter{PHIOnly: true}.Matches(e))
	assert.False(t, EventFilter{FailedAccessOnly: true}.Matches(e))
	assert.False(t, EventFilter{From: &from, To: &to}.Matches(e), "upper bound is exclusive")
	assert.True(t, EventFilter{From: &at}.Matches(e), "lower bound is inclusive")

	e.IsArchived = true
	assert.False(t, EventFilter{}.Matches(e))
	assert.True(t, EventFilter{IncludeArchived: true}.Matches(e))
}

func TestEventFilter_Narrow(t *testing.T) {
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	mid := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	base := EventFilter{From: &jan, To: &feb, EventTypes: []string{"login", "login_failed"}}
	got := base.Narrow(EventFilter{From: &mid, EventTypes: []string{"login_failed"}, PHIOnly: true})

	assert.Equal(t, mid, *got.From)
	assert.Equal(t, feb, *got.To)
	assert.Equal(t, []string{"login_failed"}, got.EventTypes)
	assert.True(t, got.PHIOnly)

	disjoint := base.Narrow(EventFilter{EventTypes: []string{"logout"}})
	assert.False(t, disjoint.Matches(&AuditEvent{EventType: "login", AccessGranted: true}))
}

func TestCursor_RoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2025, 5, 1, 8, 30, 0, 123456000, time.UTC), ID: id.NewEventID()}
	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, c.ID, decoded.ID)

	empty, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, bad := range []string{"!!!", "bm9waXBl", strings.Repeat("A", 300)} {
		_, err := DecodeCursor(bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), bad)
	}
}

func TestCursor_After(t *testing.T) {
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	first := &AuditEvent{ID: id.NewEventID(), CreatedAt: at}
	second := &AuditEvent{ID: id.NewEventID(), CreatedAt: at}
	older := &AuditEvent{ID: id.NewEventID(), CreatedAt: at.Add(-time.Second)}

	c := CursorFor(second)
	assert.True(t, c.After(first), "same timestamp, smaller id sorts later")
	assert.False(t, c.After(second))
	assert.True(t, c.After(older))
}

func TestNormalizeValues(t *testing.T) {
	got, err := NormalizeValues(map[string]any{"qty": 30, "nested": map[string]any{"a": 1.5}})
	require.NoError(t, err)
	assert.Equal(t, json.Number("30"), got["qty"])

	nilMap, err := NormalizeValues(nil)
	require.NoError(t, err)
	assert.Nil(t, nilMap)
}

func TestInferRiskLevel(t *testing.T) {
	tests := []struct {
		name                              string
		phi, controlled, financial, grant bool
		want                              RiskLevel
	}{
		{"routine", false, false, false, true, RiskLow},
		{"routine denied", false, false, false, false, RiskMedium},
		{"financial", false, false, true, true, RiskMedium},
		{"controlled substance", false, true, false, true, RiskHigh},
		{"phi denied", true, false, false, false, RiskCritical},
		{"phi and financial", true, false, true, true, RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferRiskLevel(tt.phi, tt.controlled, tt.financial, tt.grant))
		})
	}
}

func TestInferDataClassification(t *testing.T) {
	assert.Equal(t, ClassPHI, InferDataClassification(true, true, true))
	assert.Equal(t, ClassPCI, InferDataClassification(false, true, true))
	assert.Equal(t, ClassConfidential, InferDataClassification(false, true, false))
	assert.Equal(t, ClassInternal, InferDataClassification(false, false, false))
}
