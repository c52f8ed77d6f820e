package bus

import "time"

// InboundMessage is a group-chat message normalized by a channel adapter.
type InboundMessage struct {
	Channel        string
	SenderID       int64
	SenderName     string
	ChatID         int64
	Text           string
	Timestamp      time.Time
	ReplyToPersona bool
}

// OutboundMessage is a persona reply addressed to one chat.
type OutboundMessage struct {
	Channel string
	ChatID  int64
	Text    string
}
