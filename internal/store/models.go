package store

import "time"

// ConversationConfig identifies one managed conversation. Read-mostly: the
// orchestrator only mutates the personality directive and the primary
// participant after onboarding.
type ConversationConfig struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID               int64  `gorm:"uniqueIndex;not null" json:"chat_id"`
	PersonaName          string `gorm:"size:64;not null" json:"persona_name"`
	AdminID              int64  `gorm:"not null" json:"admin_id"`
	Timezone             string `gorm:"size:64;not null;default:UTC" json:"timezone"`
	PersonalityPrompt    string `gorm:"type:text" json:"personality_prompt,omitempty"`
	PrimaryParticipantID *int64 `gorm:"index" json:"primary_participant_id,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Participant is one tracked user within a conversation. The relationship
// score stays inside [0,100]; the ignored flag silences routing without
// deleting history.
type Participant struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	ConfigID          int64  `gorm:"not null;index:idx_config_user,unique"`
	UserID            int64  `gorm:"not null;index:idx_config_user,unique"`
	Name              string `gorm:"size:64;not null"`
	Gender            string `gorm:"size:16"`
	RelationshipScore int    `gorm:"not null;default:50"`
	IsIgnored         bool   `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoryEntry is an append-only long-term fact about a participant. The
// orchestrator never updates or deletes these.
type MemoryEntry struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	ParticipantID int64  `gorm:"not null;index"`
	Content       string `gorm:"type:text;not null"`
	Importance    int    `gorm:"not null;default:1"`

	CreatedAt time.Time
}

// AllModels returns the GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&ConversationConfig{},
		&Participant{},
		&MemoryEntry{},
	}
}
