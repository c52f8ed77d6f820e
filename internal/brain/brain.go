package brain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/stellarlinkco/hearth/internal/config"
	"github.com/stellarlinkco/hearth/internal/llm"
	"github.com/stellarlinkco/hearth/internal/logging"
	"github.com/stellarlinkco/hearth/internal/prompt"
	"github.com/stellarlinkco/hearth/internal/statestore"
	"github.com/stellarlinkco/hearth/internal/store"
)

// Sender delivers a persona reply to a chat. Empty text is a no-op.
type Sender interface {
	SendReply(chatID int64, text string) error
}

// Brain owns the session lifecycle of a conversation: the cold-start turn
// that opens a live session, the micro-batch turns inside it, the farewell
// turn that closes it, and stateless one-off replies.
type Brain struct {
	states   statestore.Client
	repo     store.Repository
	gateway  llm.Gateway
	prompts  *prompt.Factory
	sender   Sender
	presence config.PresenceConfig
	log      *logrus.Entry
}

func New(states statestore.Client, repo store.Repository, gateway llm.Gateway, prompts *prompt.Factory, sender Sender, presence config.PresenceConfig) *Brain {
	return &Brain{
		states:   states,
		repo:     repo,
		gateway:  gateway,
		prompts:  prompts,
		sender:   sender,
		presence: presence,
		log:      logging.Component("brain"),
	}
}

func sessionID(cfg *store.ConversationConfig) string {
	return fmt.Sprintf("conv-%d", cfg.ID)
}

// StartOnlineSession runs the cold-start turn: drain everything collected
// during gathering, open a session over the full context, and post the
// opening message. With an empty backlog no session is opened; a later
// batch turn opens one lazily.
func (b *Brain) StartOnlineSession(ctx context.Context, cfg *store.ConversationConfig, timeOfDay string) error {
	log := logging.WithConversation(b.log, cfg.ID)

	direct, err := b.states.DrainQueue(ctx, statestore.DirectQueueKey(cfg.ID))
	if err != nil {
		return fmt.Errorf("drain direct queue: %w", err)
	}
	background, err := b.states.DrainQueue(ctx, statestore.BackgroundQueueKey(cfg.ID))
	if err != nil {
		return fmt.Errorf("drain background queue: %w", err)
	}

	merged := append(direct, background...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	if len(merged) == 0 {
		log.Info("nothing gathered, skipping opening message")
		return nil
	}

	participants, err := b.repo.GetParticipants(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	memories := make(map[int64][]store.MemoryEntry, len(participants))
	for _, p := range participants {
		entries, err := b.repo.GetMemories(ctx, p.ID)
		if err != nil {
			log.WithError(err).WithField("participant_id", p.ID).Warn("load memories failed")
			continue
		}
		memories[p.ID] = entries
	}

	primaryActive := b.primarySpoke(cfg, participants, merged)

	p := b.prompts.SessionStart(cfg, participants, memories, merged, timeOfDay, primaryActive)
	raw, err := b.gateway.StartSession(ctx, sessionID(cfg), p)
	if err != nil {
		return fmt.Errorf("opening turn: %w", err)
	}

	reply := llm.ParseReply(raw)
	if err := b.deliver(cfg, reply.Text); err != nil {
		return err
	}
	b.rememberPersonaReply(ctx, cfg, reply.Text)
	b.applyUpdates(ctx, cfg, reply.Updates, byUserID(participants))

	log.WithField("messages", len(merged)).Info("online session opened")
	return nil
}

// ProcessOnlineBatch runs one micro-batch turn over whatever accumulated in
// the live batch queue. A concurrent drain by another trigger leaves this
// call with nothing to do.
func (b *Brain) ProcessOnlineBatch(ctx context.Context, cfg *store.ConversationConfig) error {
	msgs, err := b.states.DrainQueue(ctx, statestore.OnlineBatchQueueKey(cfg.ID))
	if err != nil {
		return fmt.Errorf("drain batch queue: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := b.rememberUserMessages(ctx, cfg, msgs); err != nil {
		return err
	}
	dialog, err := b.states.ShortTerm(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("read short-term memory: %w", err)
	}

	p := b.prompts.Online(cfg, dialog)
	raw, err := b.gateway.ContinueSession(ctx, sessionID(cfg), p)
	if errors.Is(err, llm.ErrNoSession) {
		// Cold start had nothing to say, so no session exists yet.
		raw, err = b.gateway.StartSession(ctx, sessionID(cfg), p)
	}
	if err != nil {
		return fmt.Errorf("batch turn: %w", err)
	}

	reply := llm.ParseReply(raw)
	if err := b.deliver(cfg, reply.Text); err != nil {
		return err
	}
	b.rememberPersonaReply(ctx, cfg, reply.Text)

	participants, err := b.repo.GetParticipants(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	b.applyUpdates(ctx, cfg, reply.Updates, byUserID(participants))
	return nil
}

// ProcessSingleMessage answers one direct mention outside a live session.
// The turn is stateless: no session is opened and nothing lands in
// short-term memory.
func (b *Brain) ProcessSingleMessage(ctx context.Context, cfg *store.ConversationConfig, msg statestore.MessagePayload) error {
	participants, err := b.repo.GetParticipants(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}

	p := b.prompts.SingleReply(cfg, participants, msg)
	raw, err := b.gateway.GenerateSingle(ctx, p)
	if err != nil {
		return fmt.Errorf("single turn: %w", err)
	}

	reply := llm.ParseReply(raw)
	if err := b.deliver(cfg, reply.Text); err != nil {
		return err
	}
	b.applyUpdates(ctx, cfg, reply.Updates, byUserID(participants))
	return nil
}

// CloseSession ends a live session: answer the remaining backlog and say
// goodbye in one message, then flip to PASSIVE and clear the volatile
// session state. Calling it when no session is live is a no-op, so the
// budget trigger and the timer trigger cannot close twice.
func (b *Brain) CloseSession(ctx context.Context, cfg *store.ConversationConfig) error {
	log := logging.WithConversation(b.log, cfg.ID)

	mode, err := b.states.Mode(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("read mode: %w", err)
	}
	if mode != statestore.ModeOnline {
		return nil
	}
	// Flip first: a second trigger racing this one sees PASSIVE and bails.
	if err := b.states.SetMode(ctx, cfg.ID, statestore.ModePassive); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}

	backlog, err := b.states.DrainQueue(ctx, statestore.OnlineBatchQueueKey(cfg.ID))
	if err != nil {
		return fmt.Errorf("drain batch queue: %w", err)
	}
	if len(backlog) > 0 {
		if err := b.rememberUserMessages(ctx, cfg, backlog); err != nil {
			return err
		}
	}
	dialog, err := b.states.ShortTerm(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("read short-term memory: %w", err)
	}

	p := b.prompts.FinalReply(cfg, dialog)
	raw, err := b.gateway.ContinueSession(ctx, sessionID(cfg), p)
	switch {
	case errors.Is(err, llm.ErrNoSession):
		// Session never opened: nothing was said, so leave silently.
	case err != nil:
		log.WithError(err).Warn("farewell turn failed, closing anyway")
	default:
		reply := llm.ParseReply(raw)
		if err := b.deliver(cfg, reply.Text); err != nil {
			log.WithError(err).Warn("farewell delivery failed")
		}
		participants, perr := b.repo.GetParticipants(ctx, cfg.ID)
		if perr != nil {
			log.WithError(perr).Warn("load participants failed")
		} else {
			b.applyUpdates(ctx, cfg, reply.Updates, byUserID(participants))
		}
	}

	b.gateway.EndSession(sessionID(cfg))
	if err := b.states.ClearShortTerm(ctx, cfg.ID); err != nil {
		log.WithError(err).Warn("clear short-term memory failed")
	}
	if err := b.states.ClearReplyCount(ctx, cfg.ID); err != nil {
		log.WithError(err).Warn("clear reply counter failed")
	}

	log.Info("session closed")
	return nil
}

func (b *Brain) deliver(cfg *store.ConversationConfig, text string) error {
	if text == "" {
		return nil
	}
	if err := b.sender.SendReply(cfg.ChatID, text); err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	return nil
}

func (b *Brain) rememberUserMessages(ctx context.Context, cfg *store.ConversationConfig, msgs []statestore.MessagePayload) error {
	entries := make([]statestore.DialogEntry, 0, len(msgs))
	for _, m := range msgs {
		author := ""
		if m.Participant != nil {
			author = m.Participant.Name
		}
		entries = append(entries, statestore.DialogEntry{
			Role:   statestore.RoleUser,
			UserID: m.UserID,
			Author: author,
			Text:   m.Text,
		})
	}
	err := b.states.AppendShortTerm(ctx, cfg.ID, entries,
		int64(b.presence.ShortTermCap), b.presence.ShortTermTTL())
	if err != nil {
		return fmt.Errorf("append short-term memory: %w", err)
	}
	return nil
}

func (b *Brain) rememberPersonaReply(ctx context.Context, cfg *store.ConversationConfig, text string) {
	if text == "" {
		return
	}
	entry := statestore.DialogEntry{Role: statestore.RolePersona, Text: text}
	err := b.states.AppendShortTerm(ctx, cfg.ID, []statestore.DialogEntry{entry},
		int64(b.presence.ShortTermCap), b.presence.ShortTermTTL())
	if err != nil {
		logging.WithConversation(b.log, cfg.ID).WithError(err).Warn("append persona reply failed")
	}
}

func (b *Brain) primarySpoke(cfg *store.ConversationConfig, participants []store.Participant, msgs []statestore.MessagePayload) bool {
	if cfg.PrimaryParticipantID == nil {
		// No primary configured: nobody to miss.
		return true
	}
	var primaryUserID int64
	for _, p := range participants {
		if p.ID == *cfg.PrimaryParticipantID {
			primaryUserID = p.UserID
			break
		}
	}
	if primaryUserID == 0 {
		return true
	}
	for _, m := range msgs {
		if m.UserID == primaryUserID {
			return true
		}
	}
	return false
}

func byUserID(participants []store.Participant) map[int64]store.Participant {
	m := make(map[int64]store.Participant, len(participants))
	for _, p := range participants {
		m[p.UserID] = p
	}
	return m
}
