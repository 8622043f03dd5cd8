package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisher(t *testing.T) {
	p := NewPublisher(nil)
	assert.NotNil(t, p)
	assert.Nil(t, p.pool)
}

func TestTruncateIfNeeded(t *testing.T) {
	t.Run("passes through normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(PhaseStartedPayload{Type: EventTypePhaseStarted, RunID: "run-1"})
		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, EventTypePhaseStarted)
		assert.Contains(t, result, "run-1")
	})

	t.Run("truncates oversized payload", func(t *testing.T) {
		reasons := make([]FailureReason, 0, 400)
		for i := 0; i < 400; i++ {
			reasons = append(reasons, FailureReason{Category: "guard", Description: "repeated failure description text padding the payload"})
		}
		payload, _ := json.Marshal(PhaseGateFailedPayload{Type: EventTypePhaseGateFailed, RunID: "run-1", Phase: "build", FailureReasons: reasons})
		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, "truncated")
		assert.Less(t, len(result), 500)
	})

	t.Run("empty JSON object passes through unchanged", func(t *testing.T) {
		result, err := truncateIfNeeded("{}")
		require.NoError(t, err)
		assert.Equal(t, "{}", result)
	})
}

func TestInjectDBEventIDAndTruncate(t *testing.T) {
	t.Run("injects db_event_id into normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(PhaseReadyPayload{Type: EventTypePhaseReady, RunID: "run-1", Phase: "build"})
		result, err := injectDBEventIDAndTruncate(payload, 42)
		require.NoError(t, err)
		assert.Contains(t, result, `"db_event_id":42`)
		assert.Contains(t, result, "run-1")
	})

	t.Run("truncated payload preserves routing fields", func(t *testing.T) {
		reasons := make([]FailureReason, 0, 400)
		for i := 0; i < 400; i++ {
			reasons = append(reasons, FailureReason{Category: "guard", Description: "repeated failure description text padding the payload"})
		}
		payload, _ := json.Marshal(PhaseGateFailedPayload{Type: EventTypePhaseGateFailed, RunID: "run-2", Phase: "qa", FailureReasons: reasons})
		result, err := injectDBEventIDAndTruncate(payload, 99)
		require.NoError(t, err)
		assert.Contains(t, result, `"truncated":true`)
		assert.Contains(t, result, `"db_event_id":99`)
		assert.Contains(t, result, "run-2")
		assert.Contains(t, result, "qa")
	})
}

func TestPublish_UnknownEventTypeIsRejected(t *testing.T) {
	p := NewPublisher(nil)
	err := p.publish(t.Context(), "run-1", map[string]string{"type": "bogus.event", "run_id": "run-1"})
	var unknown *ErrUnknownEventType
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus.event", unknown.Type)
}

func TestPersistedEventTypes_ProgressIsTransientOnly(t *testing.T) {
	assert.False(t, persistedEventTypes[EventTypePhaseProgress])
	assert.True(t, persistedEventTypes[EventTypePhaseStarted])
	assert.True(t, persistedEventTypes[EventTypePhaseCompleted])
	assert.True(t, persistedEventTypes[EventTypeRunPaused])
}

func TestPhaseGatePassedPayload_FieldShapeMatchesExternalContract(t *testing.T) {
	payload := PhaseGatePassedPayload{
		Type:          EventTypePhaseGatePassed,
		RunID:         "run-1",
		Phase:         "build",
		GateScore:     0.92,
		PassThreshold: 0.8,
		GuardReports:  []GuardReportSummary{{Type: "security", Pass: true, Score: 0.95}},
		NextPhase:     "qa",
		Timestamp:     "2026-08-01T00:00:00Z",
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "phase.gate.passed", decoded["type"])
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, 0.92, decoded["gate_score"])
	assert.Equal(t, 0.8, decoded["pass_threshold"])
	assert.Equal(t, "qa", decoded["next_phase"])
	assert.NotContains(t, string(data), "qav_summary") // omitempty when unset
}

func TestPhaseGateFailedPayload_EnumeratesFailureReasons(t *testing.T) {
	payload := PhaseGateFailedPayload{
		Type:      EventTypePhaseGateFailed,
		RunID:     "run-1",
		Phase:     "build",
		GateScore: 0.4,
		FailureReasons: []FailureReason{
			{Category: "security", Description: "hard-blocked", Severity: "critical"},
		},
		Attempt:         1,
		MaxAttempts:     3,
		AutoFixStrategy: "rerun-security",
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded PhaseGateFailedPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1, decoded.Attempt)
	assert.Equal(t, 3, decoded.MaxAttempts)
	assert.Equal(t, "rerun-security", decoded.AutoFixStrategy)
	require.Len(t, decoded.FailureReasons, 1)
	assert.Equal(t, "critical", decoded.FailureReasons[0].Severity)
}

func TestRunLifecyclePayload_SharedShapeAcrossTransitions(t *testing.T) {
	paused := RunLifecyclePayload{Type: EventTypeRunPaused, RunID: "run-1", Reason: "budget threshold exceeded"}
	data, err := json.Marshal(paused)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"run.paused"`)
	assert.Contains(t, string(data), `"reason":"budget threshold exceeded"`)
	assert.NotContains(t, string(data), `"by"`) // omitempty when unset
}
