package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox/payloads"
)

func TestDecodeTypedPayload(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.MustRegister(enums.EventSyncCompleted, 1, JSON[payloads.SyncCompletedEvent]())

	runID := uuid.New()
	raw, err := json.Marshal(payloads.SyncCompletedEvent{SyncRunID: runID, Synced: 4})
	require.NoError(t, err)

	out, err := reg.Decode(enums.EventSyncCompleted, 1, raw)
	require.NoError(t, err)
	event, ok := out.(*payloads.SyncCompletedEvent)
	require.True(t, ok, "expected *SyncCompletedEvent, got %T", out)
	assert.Equal(t, runID, event.SyncRunID)
	assert.Equal(t, 4, event.Synced)
}

func TestDecodeUnknownVersion(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.MustRegister(enums.EventSyncCompleted, 1, JSON[payloads.SyncCompletedEvent]())

	_, err := reg.Decode(enums.EventSyncCompleted, 2, json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrNoDecoder))
}

func TestJSONDecoderRejectsNonObjects(t *testing.T) {
	decode := JSON[payloads.SyncCompletedEvent]()
	for _, raw := range []string{"", "  ", "null", `[1]`, `"x"`} {
		_, err := decode(json.RawMessage(raw))
		assert.Error(t, err, "payload %q", raw)
	}
	_, err := decode(json.RawMessage(`{"synced":"many"}`))
	assert.Error(t, err)
}

func TestMustRegisterPanicsOnWiringMistakes(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.MustRegister(enums.EventOrderIngested, 1, JSON[payloads.OrderIngestedEvent]())

	assert.Panics(t, func() { reg.MustRegister(enums.EventOrderIngested, 1, JSON[payloads.OrderIngestedEvent]()) })
	assert.Panics(t, func() { reg.MustRegister(enums.EventOrderIngested, 0, JSON[payloads.OrderIngestedEvent]()) })
	assert.Panics(t, func() { reg.MustRegister(enums.OutboxEventType("order_created"), 1, JSON[payloads.OrderIngestedEvent]()) })
	assert.Panics(t, func() { reg.MustRegister(enums.EventOrderIngested, 2, nil) })
}
