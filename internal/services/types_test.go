package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultJSONAlwaysCarriesAppointmentAndError(t *testing.T) {
	decode := func(r Result) map[string]any {
		t.Helper()
		raw, err := json.Marshal(r)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(raw, &out))
		return out
	}

	failed := decode(Result{Operation: OpBookAppointment, Message: "No slots", Error: "No slots"})
	require.Contains(t, failed, "appointment")
	assert.Nil(t, failed["appointment"])
	assert.Equal(t, "No slots", failed["error"])
	assert.Equal(t, false, failed["success"])

	ok := decode(Result{Operation: OpBookAppointment, Success: true, Appointment: map[string]string{"session_id": "S1"}})
	require.Contains(t, ok, "error")
	assert.Nil(t, ok["error"])
	assert.Equal(t, map[string]any{"session_id": "S1"}, ok["appointment"])
	assert.NotContains(t, ok, "data")
}

func TestResultJSONDecodesBack(t *testing.T) {
	raw, err := json.Marshal(Result{OperationID: "op-1", Operation: OpRefresh, Success: true})
	require.NoError(t, err)

	var got Result
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "op-1", got.OperationID)
	assert.True(t, got.Success)
	assert.Empty(t, got.Error)
}
