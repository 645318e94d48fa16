package chat

import "github.com/cockroachdb/errors"

var (
	ErrMessageNotFound     = errors.New("message not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrUnknownEvent        = errors.New("unknown event type")
)

// Drop reasons reported in logs and metrics.
const (
	dropUnknownSender     = "unknown_sender"
	dropUnknownRecipient  = "unknown_recipient"
	dropUnknownMessage    = "unknown_message"
	dropDuplicateReaction = "duplicate_reaction"
	dropInvalidPayload    = "invalid_payload"
	dropUnknownEvent      = "unknown_event"
	dropNotConnected      = "not_connected"
	dropStoreError        = "store_error"
)
