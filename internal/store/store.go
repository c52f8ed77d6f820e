package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stellarlinkco/hearth/internal/config"
	"github.com/stellarlinkco/hearth/internal/logging"
)

var log = logging.Component("store")

// ErrNotFound is returned when a config or participant the caller asked for
// does not exist.
var ErrNotFound = errors.New("store: not found")

const (
	ScoreMin     = 0
	ScoreMax     = 100
	ScoreDefault = 50
)

// Repository is the narrow data-access interface the orchestrator consumes.
type Repository interface {
	GetConfig(ctx context.Context, chatID int64) (*ConversationConfig, error)
	GetConfigByID(ctx context.Context, configID int64) (*ConversationConfig, error)
	GetAllConfigs(ctx context.Context) ([]ConversationConfig, error)
	UpsertConfig(ctx context.Context, cfg *ConversationConfig) error
	UpdatePersonality(ctx context.Context, configID int64, prompt string) error
	SetPrimaryParticipant(ctx context.Context, configID, participantID int64) error

	GetParticipants(ctx context.Context, configID int64) ([]Participant, error)
	GetParticipant(ctx context.Context, configID, userID int64) (*Participant, error)
	AddParticipant(ctx context.Context, configID, userID int64, name, gender string, score int) (*Participant, error)
	SetIgnored(ctx context.Context, participantID int64, ignored bool) error
	UpdateRelationshipScore(ctx context.Context, participantID int64, delta int) error

	AddLongTermMemory(ctx context.Context, participantID int64, content string, importance int) error
	GetMemories(ctx context.Context, participantID int64) ([]MemoryEntry, error)
}

// Store implements Repository on a GORM connection.
type Store struct {
	db *gorm.DB
}

// Connect opens the configured database (sqlite by default, mysql when
// selected) and migrates the schema. Unreachable storage at startup is
// fatal to startup.
func Connect(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dialector = sqlite.Open(cfg.Path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	log.WithField("driver", cfg.Driver).Info("database ready")
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing GORM connection, used by tests.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetConfig(ctx context.Context, chatID int64) (*ConversationConfig, error) {
	var cfg ConversationConfig
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config for chat %d: %w", chatID, err)
	}
	return &cfg, nil
}

func (s *Store) GetConfigByID(ctx context.Context, configID int64) (*ConversationConfig, error) {
	var cfg ConversationConfig
	err := s.db.WithContext(ctx).First(&cfg, configID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config %d: %w", configID, err)
	}
	return &cfg, nil
}

func (s *Store) GetAllConfigs(ctx context.Context) ([]ConversationConfig, error) {
	var cfgs []ConversationConfig
	if err := s.db.WithContext(ctx).Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	return cfgs, nil
}

func (s *Store) UpsertConfig(ctx context.Context, cfg *ConversationConfig) error {
	var existing ConversationConfig
	err := s.db.WithContext(ctx).Where("chat_id = ?", cfg.ChatID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
			return fmt.Errorf("create config for chat %d: %w", cfg.ChatID, err)
		}
	case err != nil:
		return fmt.Errorf("upsert config for chat %d: %w", cfg.ChatID, err)
	default:
		cfg.ID = existing.ID
		if err := s.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"persona_name":       cfg.PersonaName,
			"admin_id":           cfg.AdminID,
			"timezone":           cfg.Timezone,
			"personality_prompt": cfg.PersonalityPrompt,
		}).Error; err != nil {
			return fmt.Errorf("update config for chat %d: %w", cfg.ChatID, err)
		}
	}
	return nil
}

func (s *Store) UpdatePersonality(ctx context.Context, configID int64, prompt string) error {
	res := s.db.WithContext(ctx).Model(&ConversationConfig{}).
		Where("id = ?", configID).
		Update("personality_prompt", prompt)
	if res.Error != nil {
		return fmt.Errorf("update personality for config %d: %w", configID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetPrimaryParticipant(ctx context.Context, configID, participantID int64) error {
	res := s.db.WithContext(ctx).Model(&ConversationConfig{}).
		Where("id = ?", configID).
		Update("primary_participant_id", participantID)
	if res.Error != nil {
		return fmt.Errorf("set primary participant for config %d: %w", configID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetParticipants(ctx context.Context, configID int64) ([]Participant, error) {
	var ps []Participant
	if err := s.db.WithContext(ctx).Where("config_id = ?", configID).Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("list participants for config %d: %w", configID, err)
	}
	return ps, nil
}

func (s *Store) GetParticipant(ctx context.Context, configID, userID int64) (*Participant, error) {
	var p Participant
	err := s.db.WithContext(ctx).
		Where("config_id = ? AND user_id = ?", configID, userID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %d:%d: %w", configID, userID, err)
	}
	return &p, nil
}

func (s *Store) AddParticipant(ctx context.Context, configID, userID int64, name, gender string, score int) (*Participant, error) {
	p := Participant{
		ConfigID:          configID,
		UserID:            userID,
		Name:              name,
		Gender:            gender,
		RelationshipScore: clampScore(score),
	}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("add participant %d to config %d: %w", userID, configID, err)
	}
	return &p, nil
}

func (s *Store) SetIgnored(ctx context.Context, participantID int64, ignored bool) error {
	res := s.db.WithContext(ctx).Model(&Participant{}).
		Where("id = ?", participantID).
		Update("is_ignored", ignored)
	if res.Error != nil {
		return fmt.Errorf("set ignored for participant %d: %w", participantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRelationshipScore applies the delta clamped to [0,100]. The clamp
// happens inside one transaction so concurrent updates cannot escape the
// bounds.
func (s *Store) UpdateRelationshipScore(ctx context.Context, participantID int64, delta int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Participant
		err := tx.First(&p, participantID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read participant %d: %w", participantID, err)
		}
		next := clampScore(p.RelationshipScore + delta)
		if next == p.RelationshipScore {
			return nil
		}
		if err := tx.Model(&p).Update("relationship_score", next).Error; err != nil {
			return fmt.Errorf("update relationship score for participant %d: %w", participantID, err)
		}
		return nil
	})
}

func (s *Store) AddLongTermMemory(ctx context.Context, participantID int64, content string, importance int) error {
	if importance < 1 {
		importance = 1
	}
	entry := MemoryEntry{
		ParticipantID: participantID,
		Content:       content,
		Importance:    importance,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("add memory for participant %d: %w", participantID, err)
	}
	return nil
}

func (s *Store) GetMemories(ctx context.Context, participantID int64) ([]MemoryEntry, error) {
	var entries []MemoryEntry
	err := s.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list memories for participant %d: %w", participantID, err)
	}
	return entries, nil
}

func clampScore(score int) int {
	if score < ScoreMin {
		return ScoreMin
	}
	if score > ScoreMax {
		return ScoreMax
	}
	return score
}
