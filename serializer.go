package ledger

import (
	"encoding/json"
	"fmt"
	"reflect"

	jsoniter "github.com/json-iterator/go"
)

type (
	// SerializedEvent is the storable form of an event payload
	SerializedEvent struct {
		EventType   string
		ContentType string
		Data        []byte
	}

	// EventSerializer converts payloads to and from their storable form
	EventSerializer interface {
		SerializeEvent(payload any) (*SerializedEvent, error)
		DeserializeEvent(
			data []byte, eventType, contentType string,
		) DeserializationResult
	}

	// MetadataSerializer converts Metadata to and from bytes. Empty input
	// deserializes to empty Metadata
	MetadataSerializer interface {
		Serialize(Metadata) ([]byte, error)
		Deserialize([]byte) (Metadata, error)
	}

	// DeserializationResult is one of Deserialized, DeserializationFailed, or
	// UnknownEventType
	DeserializationResult interface {
		deserializationResult()
	}

	// Deserialized carries a successfully decoded payload
	Deserialized struct {
		Payload any
	}

	// DeserializationFailed reports a known type whose data did not decode
	DeserializationFailed struct {
		Err       error
		EventType string
	}

	// UnknownEventType reports a type name with no registered Go type
	UnknownEventType struct {
		EventType string
	}

	// JSONSerializer encodes payloads registered in a TypeMap as JSON
	JSONSerializer struct {
		types *TypeMap
		api   jsoniter.API
	}

	// JSONMetadataSerializer encodes Metadata as a JSON object
	JSONMetadataSerializer struct {
		api jsoniter.API
	}

	// RawSerializer passes Raw payloads through untouched. Reads never
	// fail, which makes it suitable for tooling that has no TypeMap
	RawSerializer struct{}

	// Raw is an undecoded payload together with its type tag
	Raw struct {
		Type        string
		ContentType string
		Data        json.RawMessage
	}
)

// ContentTypeJSON is the content type produced by JSONSerializer
const ContentTypeJSON = "application/json"

var (
	_ EventSerializer    = (*JSONSerializer)(nil)
	_ EventSerializer    = RawSerializer{}
	_ MetadataSerializer = (*JSONMetadataSerializer)(nil)
)

func (Deserialized) deserializationResult()          {}
func (DeserializationFailed) deserializationResult() {}
func (UnknownEventType) deserializationResult()      {}

// NewJSONSerializer creates a JSONSerializer over the provided TypeMap
func NewJSONSerializer(types *TypeMap) *JSONSerializer {
	return &JSONSerializer{
		types: types,
		api:   jsoniter.ConfigCompatibleWithStandardLibrary,
	}
}

// SerializeEvent encodes the payload and resolves its type name
func (s *JSONSerializer) SerializeEvent(payload any) (*SerializedEvent, error) {
	name, ok := s.types.NameOf(payload)
	if !ok {
		return nil, &SerializationError{
			Err: fmt.Errorf("%w: %T", ErrUnknownEventType, payload),
		}
	}
	data, err := s.api.Marshal(payload)
	if err != nil {
		return nil, &SerializationError{EventType: name, Err: err}
	}
	return &SerializedEvent{
		EventType:   name,
		ContentType: ContentTypeJSON,
		Data:        data,
	}, nil
}

// DeserializeEvent decodes data into a value of the type registered under
// eventType. The returned payload is a value, not a pointer
func (s *JSONSerializer) DeserializeEvent(
	data []byte, eventType, contentType string,
) DeserializationResult {
	if contentType != "" && contentType != ContentTypeJSON {
		return DeserializationFailed{
			EventType: eventType,
			Err:       fmt.Errorf("unsupported content type %q", contentType),
		}
	}
	typ, ok := s.types.TypeOf(eventType)
	if !ok {
		return UnknownEventType{EventType: eventType}
	}
	ptr := reflect.New(typ)
	if err := s.api.Unmarshal(data, ptr.Interface()); err != nil {
		return DeserializationFailed{EventType: eventType, Err: err}
	}
	return Deserialized{Payload: ptr.Elem().Interface()}
}

// NewJSONMetadataSerializer creates the default MetadataSerializer
func NewJSONMetadataSerializer() *JSONMetadataSerializer {
	return &JSONMetadataSerializer{
		api: jsoniter.ConfigCompatibleWithStandardLibrary,
	}
}

func (s *JSONMetadataSerializer) Serialize(m Metadata) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := s.api.Marshal(m)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return data, nil
}

func (s *JSONMetadataSerializer) Deserialize(data []byte) (Metadata, error) {
	m := Metadata{}
	if len(data) == 0 {
		return m, nil
	}
	if err := s.api.Unmarshal(data, &m); err != nil {
		return nil, &SerializationError{Err: err}
	}
	return m, nil
}

// SerializeEvent accepts Raw or *Raw payloads only
func (RawSerializer) SerializeEvent(payload any) (*SerializedEvent, error) {
	var raw Raw
	switch p := payload.(type) {
	case Raw:
		raw = p
	case *Raw:
		raw = *p
	default:
		return nil, &SerializationError{
			Err: fmt.Errorf("%w: %T is not a raw payload", ErrUnknownEventType, p),
		}
	}
	if raw.Type == "" {
		return nil, &SerializationError{
			Err: fmt.Errorf("%w: raw payload has no type", ErrUnknownEventType),
		}
	}
	ct := raw.ContentType
	if ct == "" {
		ct = ContentTypeJSON
	}
	return &SerializedEvent{
		EventType:   raw.Type,
		ContentType: ct,
		Data:        raw.Data,
	}, nil
}

func (RawSerializer) DeserializeEvent(
	data []byte, eventType, contentType string,
) DeserializationResult {
	return Deserialized{Payload: Raw{
		Type:        eventType,
		ContentType: contentType,
		Data:        data,
	}}
}
