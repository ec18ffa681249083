package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire form of an event between instances. Groups are
// resolved by the publishing instance so consumers never need owner secrets
// from the payload.
type Envelope struct {
	Type    Kind            `json:"type"`
	Key     string          `json:"key"`
	Groups  []Group         `json:"groups,omitempty"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Frame is what a viewer receives: the event without routing data.
type Frame struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func Encode(ev Event, groups []Group) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{
		Type:    ev.Kind(),
		Key:     ev.Key(),
		Groups:  groups,
		At:      time.Now().UTC(),
		Payload: payload,
	})
}

func Decode(data []byte) (Event, []Group, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("realtime: unmarshal envelope: %w", err)
	}
	ev, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return nil, nil, err
	}
	return ev, env.Groups, nil
}

func EncodeFrame(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Frame{Type: ev.Kind(), Payload: payload})
}

func DecodeFrame(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("realtime: unmarshal frame: %w", err)
	}
	return decodePayload(f.Type, f.Payload)
}

func decodePayload(kind Kind, payload json.RawMessage) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch kind {
	case KindOrderCreated:
		var e OrderCreated
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindOrderStatusChanged:
		var e OrderStatusChanged
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindOrderUpdated:
		var e OrderUpdated
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindItemStatusChanged:
		var e ItemStatusChanged
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindPromotionQuotaReleased:
		var e PromotionQuotaReleased
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindPromotionQuotaExhausted:
		var e PromotionQuotaExhausted
		err = json.Unmarshal(payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("realtime: unknown event type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("realtime: unmarshal %s: %w", kind, err)
	}
	if oe, ok := ev.(interface{ hasOrder() bool }); ok && !oe.hasOrder() {
		return nil, fmt.Errorf("realtime: %s without order", kind)
	}
	return ev, nil
}

func (e OrderCreated) hasOrder() bool       { return e.Order != nil }
func (e OrderStatusChanged) hasOrder() bool { return e.Order != nil }
func (e OrderUpdated) hasOrder() bool       { return e.Order != nil }
