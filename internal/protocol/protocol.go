// Package protocol defines the JSON envelopes exchanged over a podcast
// signaling connection.
//
// Inbound (participant to server):
//
//	{"message_type": 1, "data": {"ip": "127.0.0.1", "port": 9000}}
//
// Outbound (server to participant):
//
//	{"event_type": 1, "data": {"port": 42000}}
//	{"event_type": 2, "data": {"reason": 0}}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrMalformedMessage = errors.New("malformed message")
)

type MessageType uint32

const (
	MessageAddressAnnouncement MessageType = 1
)

type EventType uint32

const (
	EventReady  EventType = 1
	EventClosed EventType = 2
)

type CloseReason uint16

const (
	ReasonHostDisconnected CloseReason = 0
)

// Message is an inbound message. The set of implementations is closed.
type Message interface {
	Type() MessageType
	isMessage()
}

// Event is an outbound event. The set of implementations is closed.
type Event interface {
	Type() EventType
	isEvent()
}

// AddressAnnouncement tells the server where the sender's audio socket lives.
// Whether the sender is host or listener is decided by identity, not payload.
type AddressAnnouncement struct {
	IP   string `json:"ip"`
	Port int64  `json:"port"`
}

func (AddressAnnouncement) Type() MessageType { return MessageAddressAnnouncement }
func (AddressAnnouncement) isMessage()        {}

// AddrPort parses the announcement. IPv4-mapped IPv6 addresses are unmapped
// so they compare equal to the datagram source seen on an IPv4 socket.
func (a AddressAnnouncement) AddrPort() (netip.AddrPort, error) {
	ip, err := netip.ParseAddr(a.IP)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: ip %q: %v", ErrMalformedMessage, a.IP, err)
	}
	if a.Port < 1 || a.Port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("%w: port %d out of range", ErrMalformedMessage, a.Port)
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(a.Port)), nil
}

// Ready is pushed once when a signaling connection opens.
type Ready struct {
	Port uint16 `json:"port"`
}

func (Ready) Type() EventType { return EventReady }
func (Ready) isEvent()        {}

// Closed is pushed to every participant when the podcast ends.
type Closed struct {
	Reason CloseReason `json:"reason"`
}

func (Closed) Type() EventType { return EventClosed }
func (Closed) isEvent()        {}

type messageEnvelope struct {
	MessageType MessageType     `json:"message_type"`
	Data        json.RawMessage `json:"data"`
}

type eventEnvelope struct {
	EventType EventType       `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

func decodeAddressAnnouncement(data json.RawMessage) (Message, error) {
	var m AddressAnnouncement
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}

var messageDecoders = map[MessageType]func(json.RawMessage) (Message, error){
	MessageAddressAnnouncement: decodeAddressAnnouncement,
}

var eventDecoders = map[EventType]func(json.RawMessage) (Event, error){
	EventReady: func(data json.RawMessage) (Event, error) {
		var ev Ready
		err := json.Unmarshal(data, &ev)
		return ev, err
	},
	EventClosed: func(data json.RawMessage) (Event, error) {
		var ev Closed
		err := json.Unmarshal(data, &ev)
		return ev, err
	},
}

// DecodeMessage parses one inbound envelope and dispatches on message_type.
func DecodeMessage(raw []byte) (Message, error) {
	var env messageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedMessage)
	}
	decode, ok := messageDecoders[env.MessageType]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, env.MessageType)
	}
	return decode(env.Data)
}

// EncodeEvent wraps ev in its outbound envelope.
func EncodeEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{EventType: ev.Type(), Data: data})
}

// DecodeEvent is the client-side counterpart of EncodeEvent.
func DecodeEvent(raw []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	decode, ok := eventDecoders[env.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: event %d", ErrUnknownMessage, env.EventType)
	}
	ev, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return ev, nil
}

// EncodeMessage is the client-side counterpart of DecodeMessage.
func EncodeMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageEnvelope{MessageType: m.Type(), Data: data})
}
