package brain

import (
	"context"

	"github.com/stellarlinkco/hearth/internal/llm"
	"github.com/stellarlinkco/hearth/internal/logging"
	"github.com/stellarlinkco/hearth/internal/store"
)

// applyUpdates commits the structured part of a reply to the repository.
// Every entry is independent: a bad one is logged and skipped so a single
// hallucinated user id cannot void the rest of the update.
func (b *Brain) applyUpdates(ctx context.Context, cfg *store.ConversationConfig, updates *llm.StructuredUpdate, known map[int64]store.Participant) {
	if updates == nil {
		return
	}
	log := logging.WithConversation(b.log, cfg.ID)

	for _, u := range updates.Updates {
		p, ok := known[u.UserID]
		if !ok {
			log.WithField("user_id", u.UserID).Warn("update for unknown participant, skipped")
			continue
		}
		if u.RelationshipChange != 0 {
			if err := b.repo.UpdateRelationshipScore(ctx, p.ID, u.RelationshipChange); err != nil {
				log.WithError(err).WithField("participant_id", p.ID).Warn("relationship update failed")
			}
		}
		if u.NewMemory != "" {
			if err := b.repo.AddLongTermMemory(ctx, p.ID, u.NewMemory, u.Importance); err != nil {
				log.WithError(err).WithField("participant_id", p.ID).Warn("memory write failed")
			}
		}
	}

	for _, np := range updates.NewParticipants {
		if _, ok := known[np.UserID]; ok {
			continue
		}
		score := np.InitialRelationship
		if score == 0 {
			score = store.ScoreDefault
		}
		p, err := b.repo.AddParticipant(ctx, cfg.ID, np.UserID, np.SuggestedName, np.SuggestedGender, score)
		if err != nil {
			log.WithError(err).WithField("user_id", np.UserID).Warn("add participant failed")
			continue
		}
		known[np.UserID] = *p
		log.WithField("user_id", np.UserID).WithField("name", np.SuggestedName).Info("participant added")
	}
}
