package chat

import (
	"encoding/json"
	"time"
)

// Inbound event types (client -> server).
const (
	EventJoin               = "user_join"
	EventSend               = "message"
	EventPrivateSend        = "private_message"
	EventAddReaction        = "addReaction"
	EventShareFile          = "shareFile"
	EventTyping             = "typing"
	EventSearch             = "searchMessages"
	EventLoadHistory        = "loadPreviousMessages"
	EventLoadPrivateHistory = "loadPrivateMessages"
)

// Outbound event types (server -> client).
const (
	EventUserList        = "user_list"
	EventUserJoined      = "userJoined"
	EventUserLeft        = "userLeft"
	EventMessage         = "message"
	EventPrivateMessage  = "private_message"
	EventMessageReaction = "messageReaction"
	EventFileShared      = "fileShared"
	EventUserTyping      = "userTyping"
	EventSearchResults   = "searchResults"
	EventPreviousPage    = "previousMessages"
	EventPrivatePage     = "privateMessages"
)

// Inbound is the envelope received from websocket clients.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is pushed to clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type PrivateSendPayload struct {
	RecipientID string `json:"recipientId" validate:"required"`
	Message     string `json:"message"`
}

type ReactionPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Reaction  string `json:"reaction" validate:"required,grapheme"`
}

type FilePayload struct {
	File     string `json:"file" validate:"required,datauri"`
	FileName string `json:"fileName" validate:"required"`
	FileType string `json:"fileType"`
}

// HistoryPayload requests one page of broadcast history. A nil Page means
// "next page for this connection".
type HistoryPayload struct {
	Page  *int `json:"page" validate:"omitempty,gte=0"`
	Limit int  `json:"limit" validate:"gt=0"`
}

type PrivateHistoryPayload struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

// Reactions maps a reaction symbol to the display names that used it, in
// the order they reacted. A name appears at most once per symbol.
type Reactions map[string][]string

// Add records name under symbol and reports whether the set changed.
func (r Reactions) Add(symbol, name string) bool {
	for _, n := range r[symbol] {
		if n == name {
			return false
		}
	}
	r[symbol] = append(r[symbol], name)
	return true
}

// BroadcastMessage is a message visible to every connection.
type BroadcastMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	User      string    `json:"user"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
	Reactions Reactions `json:"reactions"`
}

// PrivateMessage is visible to its sender and recipient only.
type PrivateMessage struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	SenderID      string    `json:"senderId"`
	SenderName    string    `json:"senderName"`
	RecipientID   string    `json:"recipientId"`
	RecipientName string    `json:"recipientName"`
	Timestamp     time.Time `json:"timestamp"`
	Reactions     Reactions `json:"reactions"`
}

// Counterpart returns the other party of the exchange as seen by id.
func (m PrivateMessage) Counterpart(id string) string {
	if m.SenderID == id {
		return m.RecipientID
	}
	return m.SenderID
}

// FileShare is relayed to every connection and never stored.
type FileShare struct {
	File       string    `json:"file"`
	FileName   string    `json:"fileName"`
	FileType   string    `json:"fileType"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
}

type PresenceNotice struct {
	Username string        `json:"username"`
	ID       string        `json:"id"`
	Users    []Participant `json:"users"`
}

type ReactionUpdate struct {
	MessageID string    `json:"messageId"`
	Reactions Reactions `json:"reactions"`
}

type TypingStatus struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type HistoryPage struct {
	Messages []BroadcastMessage `json:"messages"`
	HasMore  bool               `json:"hasMore"`
}

type PrivatePage struct {
	ParticipantID string           `json:"participantId"`
	Messages      []PrivateMessage `json:"messages"`
}
