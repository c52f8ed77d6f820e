package router

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/stellarlinkco/hearth/internal/config"
	"github.com/stellarlinkco/hearth/internal/logging"
	"github.com/stellarlinkco/hearth/internal/statestore"
	"github.com/stellarlinkco/hearth/internal/store"
)

// Turns is the slice of the session manager the router calls into.
type Turns interface {
	ProcessOnlineBatch(ctx context.Context, cfg *store.ConversationConfig) error
	ProcessSingleMessage(ctx context.Context, cfg *store.ConversationConfig, msg statestore.MessagePayload) error
	CloseSession(ctx context.Context, cfg *store.ConversationConfig) error
}

// Operator routes every incoming message according to the conversation's
// current mode. It holds no per-conversation state of its own: the mode is
// read fresh from the state store on every call, so a mode flip between two
// messages takes effect immediately.
type Operator struct {
	states   statestore.Client
	turns    Turns
	presence config.PresenceConfig
	log      *logrus.Entry

	// rng returns a uniform draw in [0, n). Injectable for tests.
	rng func(n int) int
}

func NewOperator(states statestore.Client, turns Turns, presence config.PresenceConfig) *Operator {
	return &Operator{
		states:   states,
		turns:    turns,
		presence: presence,
		log:      logging.Component("operator"),
		rng:      rand.Intn,
	}
}

// Route files msg for the conversation cfg. participant is the repository
// snapshot of the sender, nil when the sender is not known yet.
func (o *Operator) Route(ctx context.Context, cfg *store.ConversationConfig, participant *store.Participant, msg statestore.MessagePayload) error {
	mode, err := o.states.Mode(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("read mode: %w", err)
	}

	log := logging.WithConversation(o.log, cfg.ID)

	switch mode {
	case statestore.ModeGathering:
		return o.routeGathering(ctx, cfg, participant, msg)
	case statestore.ModeOnline:
		return o.routeOnline(ctx, cfg, msg)
	case statestore.ModePassive:
		return o.routePassive(ctx, cfg, participant, msg)
	default:
		// No mode set yet: the persona has never visited this chat.
		log.Debug("no mode set, message dropped")
		return nil
	}
}

// isDirect reports whether msg demands the persona's attention: an explicit
// reply to the persona, its name in the text, or the primary participant
// speaking.
func (o *Operator) isDirect(cfg *store.ConversationConfig, participant *store.Participant, msg statestore.MessagePayload) bool {
	if msg.ReplyToPersona {
		return true
	}
	if cfg.PersonaName != "" &&
		strings.Contains(strings.ToLower(msg.Text), strings.ToLower(cfg.PersonaName)) {
		return true
	}
	return o.isPrimary(cfg, participant)
}

func (o *Operator) isPrimary(cfg *store.ConversationConfig, participant *store.Participant) bool {
	return participant != nil &&
		cfg.PrimaryParticipantID != nil &&
		participant.ID == *cfg.PrimaryParticipantID
}

// routeGathering splits the stream into the direct and background queues.
// The background queue is capped so a noisy chat cannot grow it unbounded.
func (o *Operator) routeGathering(ctx context.Context, cfg *store.ConversationConfig, participant *store.Participant, msg statestore.MessagePayload) error {
	if o.isDirect(cfg, participant, msg) {
		return o.states.Enqueue(ctx, statestore.DirectQueueKey(cfg.ID), msg)
	}

	queue := statestore.BackgroundQueueKey(cfg.ID)
	if err := o.states.Enqueue(ctx, queue, msg); err != nil {
		return err
	}
	return o.states.TrimQueue(ctx, queue, int64(o.presence.BackgroundQueueCap))
}

// routeOnline enforces the reply budget and the per-user cooldown, then
// batches the message for the live session.
func (o *Operator) routeOnline(ctx context.Context, cfg *store.ConversationConfig, msg statestore.MessagePayload) error {
	log := logging.WithConversation(o.log, cfg.ID)

	count, err := o.states.IncrReplyCount(ctx, cfg.ID, o.presence.OnlineDuration())
	if err != nil {
		return fmt.Errorf("incr reply count: %w", err)
	}
	if count > int64(o.presence.OnlineReplyLimit) {
		log.WithField("count", count).Info("reply budget exhausted, closing session")
		return o.turns.CloseSession(ctx, cfg)
	}

	active, err := o.states.CooldownActive(ctx, cfg.ID, msg.UserID)
	if err != nil {
		return fmt.Errorf("check cooldown: %w", err)
	}
	if active {
		log.WithField("user_id", msg.UserID).Debug("user on cooldown, message dropped")
		return nil
	}

	queue := statestore.OnlineBatchQueueKey(cfg.ID)
	if err := o.states.Enqueue(ctx, queue, msg); err != nil {
		return err
	}
	if err := o.states.SetCooldown(ctx, cfg.ID, msg.UserID, o.presence.UserCooldown()); err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}

	qlen, err := o.states.QueueLen(ctx, queue)
	if err != nil {
		return fmt.Errorf("batch queue len: %w", err)
	}
	if qlen >= int64(o.presence.OnlineBatchThreshold) {
		return o.turns.ProcessOnlineBatch(ctx, cfg)
	}
	return nil
}

// routePassive queues messages from the primary participant, occasionally
// answers a direct mention on the spot, and ignores everything else.
func (o *Operator) routePassive(ctx context.Context, cfg *store.ConversationConfig, participant *store.Participant, msg statestore.MessagePayload) error {
	if o.isPrimary(cfg, participant) {
		return o.states.Enqueue(ctx, statestore.DirectQueueKey(cfg.ID), msg)
	}

	if !o.isDirect(cfg, participant, msg) {
		return nil
	}

	if o.rng(100) < o.presence.PassiveReplyChance {
		return o.turns.ProcessSingleMessage(ctx, cfg, msg)
	}
	return o.states.Enqueue(ctx, statestore.DirectQueueKey(cfg.ID), msg)
}
