package model

import (
	"encoding/json"
	"fmt"
)

// EventName identifies a realtime frame in either direction.
type EventName string

// Client -> server.
const (
	EventRegister         EventName = "register"
	EventSend             EventName = "send"
	EventEdit             EventName = "edit"
	EventDelete           EventName = "delete"
	EventTyping           EventName = "typing"
	EventStopTyping       EventName = "stop-typing"
	EventSeen             EventName = "seen"
	EventClearChatRequest EventName = "clear-chat-request"
	EventClearChatAccept  EventName = "clear-chat-accept"
	EventClearChatReject  EventName = "clear-chat-reject"
	EventGroupSend        EventName = "group-send"
	EventGetOnlineUsers   EventName = "get-online-users"
)

// Server -> client. typing, stop-typing, seen and clear-chat-request keep
// the same name in both directions.
const (
	EventUserOnline        EventName = "user-online"
	EventUserOffline       EventName = "user-offline"
	EventOnlineUsers       EventName = "online-users"
	EventReceive           EventName = "receive"
	EventEdited            EventName = "edited"
	EventDeleted           EventName = "deleted"
	EventClearChatAccepted EventName = "clear-chat-accepted"
	EventClearChatRejected EventName = "clear-chat-rejected"
	EventGroupReceive      EventName = "group-receive"
)

// Envelope is one frame on the wire: {"event": "...", "data": {...}}.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload into a frame for event.
func Encode(event EventName, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("model: encode %s: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses a frame. The payload is left raw for the handler.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("model: decode frame: %w", err)
	}
	return env, nil
}

type RegisterPayload struct {
	UserID string `json:"userId"`
}

type SendPayload struct {
	To         string `json:"to"`
	From       string `json:"from"`
	Msg        string `json:"msg"`
	FileURL    string `json:"fileUrl,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	ID         string `json:"id,omitempty"`
}

type ReceivePayload struct {
	From       string `json:"from"`
	Msg        string `json:"msg"`
	FileURL    string `json:"fileUrl,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	ID         string `json:"id,omitempty"`
}

type EditPayload struct {
	To    string `json:"to"`
	From  string `json:"from,omitempty"`
	MsgID string `json:"msgId"`
	Text  string `json:"text"`
}

type EditedPayload struct {
	MsgID string `json:"msgId"`
	Text  string `json:"text"`
}

type DeletePayload struct {
	To    string `json:"to"`
	From  string `json:"from,omitempty"`
	MsgID string `json:"msgId"`
}

type DeletedPayload struct {
	MsgID string `json:"msgId"`
}

// PeerPayload is shared by typing, stop-typing, seen and the clear-chat handshake.
type PeerPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
}

type FromPayload struct {
	From string `json:"from"`
}

type GroupPayload struct {
	GroupID    string `json:"groupId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Msg        string `json:"msg"`
	ID         string `json:"id,omitempty"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

type OnlineUsersPayload struct {
	Users []string `json:"users"`
}
