package eventsourcing

import (
	"encoding/json"
	"fmt"

	"github.com/kamiazya/scopes/pkg/domain"
)

// Serializer converts typed payloads to and from the bytes stored on the
// event record. Deserialize must be the exact inverse of Serialize for every
// registered type.
type Serializer interface {
	Serialize(payload Payload) ([]byte, error)
	Deserialize(typeID string, data []byte) (Payload, error)
}

// JSONSerializer serializes payloads as JSON, resolving concrete types
// through the registry.
type JSONSerializer struct {
	registry *TypeRegistry
}

// NewJSONSerializer returns a serializer backed by the given registry.
func NewJSONSerializer(registry *TypeRegistry) *JSONSerializer {
	return &JSONSerializer{registry: registry}
}

func (s *JSONSerializer) Serialize(payload Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", payload.EventType(), err)
	}
	return data, nil
}

func (s *JSONSerializer) Deserialize(typeID string, data []byte) (Payload, error) {
	payload, err := s.registry.New(typeID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, domain.IntegrityError(
			domain.ReasonCorruptPayload,
			fmt.Sprintf("payload of event type %q does not decode", typeID),
			domain.ErrCorruptedStream,
		)
	}
	return payload, nil
}
