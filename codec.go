package cache

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	tagInsert = "insert"
	tagRemove = "remove"
	tagClear  = "clear"
)

var (
	ErrUnknownEventTag = errors.New("go-cache: unknown event tag")
	ErrMalformedEvent  = errors.New("go-cache: malformed event")
)

type wirePayload[K comparable, V any] struct {
	_msgpack struct{} `msgpack:",array"`
	Key      K
	Value    V
}

// envelope is what goes over the pub/sub channel. Origin identifies the
// publishing backend instance.
type envelope struct {
	_msgpack struct{} `msgpack:",array"`
	Origin   string
	Event    msgpack.RawMessage
}

// marshalEvent encodes an event as a [tag, payload] tagged union.
func marshalEvent[K comparable, V any](ev Event[K, V]) ([]byte, error) {
	var (
		tag     string
		payload any
	)
	switch e := ev.(type) {
	case InsertEvent[K, V]:
		tag = tagInsert
		payload = wirePayload[K, V]{Key: e.payload.Key, Value: e.payload.Value}
	case RemoveEvent[K, V]:
		tag = tagRemove
		payload = wirePayload[K, V]{Key: e.payload.Key, Value: e.payload.Value}
	case ClearEvent[K, V]:
		tag = tagClear
	default:
		return nil, errors.Errorf("go-cache: cannot encode event %T", ev)
	}

	data, err := msgpack.Marshal([]any{tag, payload})
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s event", tag)
	}
	return data, nil
}

func unmarshalEvent[K comparable, V any](data []byte) (Event[K, V], error) {
	var taggedUnion []msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &taggedUnion); err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if len(taggedUnion) != 2 {
		return nil, errors.Wrapf(ErrMalformedEvent, "expected 2-part tagged union, got %d parts", len(taggedUnion))
	}

	var tag string
	if err := msgpack.Unmarshal(taggedUnion[0], &tag); err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}

	switch tag {
	case tagInsert, tagRemove:
		var p wirePayload[K, V]
		if err := msgpack.Unmarshal(taggedUnion[1], &p); err != nil {
			return nil, errors.Wrapf(ErrMalformedEvent, "decoding %s payload: %s", tag, err)
		}
		if tag == tagInsert {
			return newInsertEvent(p.Key, p.Value), nil
		}
		return newRemoveEvent(p.Key, p.Value), nil
	case tagClear:
		return newClearEvent[K, V](), nil
	default:
		return nil, errors.Wrapf(ErrUnknownEventTag, "%q", tag)
	}
}

func marshalEnvelope[K comparable, V any](origin string, ev Event[K, V]) ([]byte, error) {
	data, err := marshalEvent[K, V](ev)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(&envelope{Origin: origin, Event: data})
}

func unmarshalEnvelope[K comparable, V any](data []byte) (string, Event[K, V], error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return "", nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	ev, err := unmarshalEvent[K, V](env.Event)
	if err != nil {
		return env.Origin, nil, err
	}
	return env.Origin, ev, nil
}
