package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventProposed  EventType = "proposed"
	EventAccepted  EventType = "accepted"
	EventFulfilled EventType = "fulfilled"
	EventVerified  EventType = "verified"
	EventBreached  EventType = "breached"
	EventRejected  EventType = "rejected"
	EventClosed    EventType = "closed"
)

// EventPayload is implemented only by the payload types in this package.
type EventPayload interface {
	EventType() EventType
	clonePayload() EventPayload
}

type ProposedPayload struct{}

type AcceptedPayload struct{}

type FulfilledPayload struct {
	Deliverables []string `json:"deliverables"`
}

type VerifiedPayload struct {
	Result       VerificationResult `json:"verification_result"`
	WithWarnings bool               `json:"with_warnings"`
}

type BreachedPayload struct {
	Breach ContractBreach `json:"breach"`
}

type RejectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type ClosedPayload struct{}

func (ProposedPayload) EventType() EventType  { return EventProposed }
func (AcceptedPayload) EventType() EventType  { return EventAccepted }
func (FulfilledPayload) EventType() EventType { return EventFulfilled }
func (VerifiedPayload) EventType() EventType  { return EventVerified }
func (BreachedPayload) EventType() EventType  { return EventBreached }
func (RejectedPayload) EventType() EventType  { return EventRejected }
func (ClosedPayload) EventType() EventType    { return EventClosed }

func (p ProposedPayload) clonePayload() EventPayload { return p }
func (p AcceptedPayload) clonePayload() EventPayload { return p }
func (p FulfilledPayload) clonePayload() EventPayload {
	return FulfilledPayload{Deliverables: cloneStrings(p.Deliverables)}
}
func (p VerifiedPayload) clonePayload() EventPayload {
	return VerifiedPayload{Result: p.Result.Clone(), WithWarnings: p.WithWarnings}
}
func (p BreachedPayload) clonePayload() EventPayload {
	return BreachedPayload{Breach: p.Breach.Clone()}
}
func (p RejectedPayload) clonePayload() EventPayload { return p }
func (p ClosedPayload) clonePayload() EventPayload   { return p }

// ContractEvent is an immutable audit record appended on every lifecycle change.
type ContractEvent struct {
	ID         string
	Type       EventType
	ContractID string
	ActorID    string
	Timestamp  time.Time
	Payload    EventPayload
}

// NewEvent builds an event whose type is taken from the payload.
func NewEvent(id, contractID, actorID string, ts time.Time, payload EventPayload) ContractEvent {
	return ContractEvent{
		ID:         id,
		Type:       payload.EventType(),
		ContractID: contractID,
		ActorID:    actorID,
		Timestamp:  ts,
		Payload:    payload,
	}
}

func (e ContractEvent) Clone() ContractEvent {
	if e.Payload != nil {
		e.Payload = e.Payload.clonePayload()
	}
	return e
}

type eventJSON struct {
	ID         string          `json:"event_id"`
	Type       EventType       `json:"event_type"`
	ContractID string          `json:"contract_id"`
	ActorID    string          `json:"actor_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (e ContractEvent) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		ID:         e.ID,
		Type:       e.Type,
		ContractID: e.ContractID,
		ActorID:    e.ActorID,
		Timestamp:  e.Timestamp,
	}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		out.Payload = raw
	}
	return json.Marshal(out)
}

func (e *ContractEvent) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	payload, err := DecodePayload(in.Type, in.Payload)
	if err != nil {
		return err
	}
	*e = ContractEvent{
		ID:         in.ID,
		Type:       in.Type,
		ContractID: in.ContractID,
		ActorID:    in.ActorID,
		Timestamp:  in.Timestamp,
		Payload:    payload,
	}
	return nil
}

// DecodePayload decodes raw into the payload type registered for t.
func DecodePayload(t EventType, raw json.RawMessage) (EventPayload, error) {
	var (
		payload EventPayload
		err     error
	)
	switch t {
	case EventProposed:
		payload = ProposedPayload{}
	case EventAccepted:
		payload = AcceptedPayload{}
	case EventClosed:
		payload = ClosedPayload{}
	case EventFulfilled:
		var p FulfilledPayload
		err = unmarshalPayload(raw, &p)
		payload = p
	case EventVerified:
		var p VerifiedPayload
		err = unmarshalPayload(raw, &p)
		payload = p
	case EventBreached:
		var p BreachedPayload
		err = unmarshalPayload(raw, &p)
		payload = p
	case EventRejected:
		var p RejectedPayload
		err = unmarshalPayload(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return payload, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
