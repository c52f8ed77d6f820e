package statestore

import "fmt"

// Mode is the per-conversation operating state. It lives only in the state
// store: volatile, high-frequency, and safe to lose on restart.
type Mode string

const (
	// ModeNone means no mode key exists for the conversation. A conversation
	// that was never scheduled is inert: every consumer must treat ModeNone
	// as "do nothing", never as ModePassive.
	ModeNone Mode = ""

	ModeGathering Mode = "GATHERING"
	ModeOnline    Mode = "ONLINE"
	ModePassive   Mode = "PASSIVE"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeGathering, ModeOnline, ModePassive:
		return true
	}
	return false
}

// ParticipantInfo is the snapshot of a participant captured at enqueue time.
// Nil for users the repository does not know yet.
type ParticipantInfo struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Gender            string `json:"gender,omitempty"`
	RelationshipScore int    `json:"relationship_score"`
}

// MessagePayload is one queued inbound message. Its lifetime is bounded to
// the queue; a batch turn consumes it exactly once.
type MessagePayload struct {
	UserID         int64            `json:"user_id"`
	ChatID         int64            `json:"chat_id"`
	Text           string           `json:"text"`
	Timestamp      int64            `json:"timestamp"` // unix seconds
	ReplyToPersona bool             `json:"reply_to_persona,omitempty"`
	Participant    *ParticipantInfo `json:"participant_info,omitempty"`
}

// Dialog roles for short-term memory entries.
const (
	RoleUser    = "user"
	RolePersona = "persona"
)

// DialogEntry is one exchange stored in short-term dialog memory while a
// conversation is ONLINE.
type DialogEntry struct {
	Role   string `json:"role"` // RoleUser or RolePersona
	UserID int64  `json:"user_id,omitempty"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// Key builders. Every key is namespaced by conversation id so concurrent
// conversations can never interfere.

func ModeKey(configID int64) string { return fmt.Sprintf("mode:%d", configID) }

func DirectQueueKey(configID int64) string { return fmt.Sprintf("direct_queue:%d", configID) }

func BackgroundQueueKey(configID int64) string { return fmt.Sprintf("background_queue:%d", configID) }

func OnlineBatchQueueKey(configID int64) string {
	return fmt.Sprintf("online_batch_queue:%d", configID)
}

func ReplyCountKey(configID int64) string { return fmt.Sprintf("online_replies_count:%d", configID) }

func CooldownKey(configID, userID int64) string {
	return fmt.Sprintf("online_user_cooldown:%d:%d", configID, userID)
}

func ShortTermKey(configID int64) string { return fmt.Sprintf("short_term_memory:%d", configID) }

func TimeOfDayKey(configID int64) string { return fmt.Sprintf("timeofday:%d", configID) }

func ConfigCacheKey(chatID int64) string { return fmt.Sprintf("config_data:%d", chatID) }
