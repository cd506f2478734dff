package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// ErrNoDecoder is returned for an event type and version nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

// Decoder turns a stored payload into its typed event.
type Decoder func(payload json.RawMessage) (any, error)

// JSON decodes a payload object into a fresh *T.
func JSON[T any]() Decoder {
	return func(payload json.RawMessage) (any, error) {
		trimmed := bytes.TrimSpace(payload)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, errors.New("payload must be a JSON object")
		}
		out := new(T)
		if err := json.Unmarshal(trimmed, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, payload version) to a decoder.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]Decoder
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]Decoder)}
}

// MustRegister adds a decoder and panics when the pair is already taken or the input is
// unusable, since both are wiring mistakes.
func (r *DecoderRegistry) MustRegister(eventType enums.OutboxEventType, version int, decoder Decoder) {
	if decoder == nil || version <= 0 || !eventType.IsValid() {
		panic(fmt.Sprintf("registry: invalid decoder registration for %q@v%d", eventType, version))
	}
	key := decoderKey{eventType: eventType, version: version}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[key]; exists {
		panic(fmt.Sprintf("registry: decoder for %s@v%d registered twice", eventType, version))
	}
	r.decoders[key] = decoder
}

// Decode runs the decoder for eventType at version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	decoder, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
	}
	return decoder(payload)
}
