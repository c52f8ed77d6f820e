package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stellarlinkco/hearth/internal/brain"
	"github.com/stellarlinkco/hearth/internal/bus"
	"github.com/stellarlinkco/hearth/internal/channel"
	"github.com/stellarlinkco/hearth/internal/config"
	"github.com/stellarlinkco/hearth/internal/llm"
	"github.com/stellarlinkco/hearth/internal/logging"
	"github.com/stellarlinkco/hearth/internal/prompt"
	"github.com/stellarlinkco/hearth/internal/router"
	"github.com/stellarlinkco/hearth/internal/scheduler"
	"github.com/stellarlinkco/hearth/internal/statestore"
	"github.com/stellarlinkco/hearth/internal/store"
)

// defaultChannel is where persona replies go until a second chat platform
// is wired in.
const defaultChannel = "telegram"

// Options for creating a Gateway.
type Options struct {
	RuntimeFactory llm.RuntimeFactory
	States         statestore.Client // overrides the Redis connection (tests)
	Repo           store.Repository  // overrides the database (tests)
	SignalChan     chan os.Signal    // for testing signal handling
}

// Gateway assembles the whole service: channels feed the bus, the process
// loop resolves each message to its conversation and hands it to the
// router, and the scheduler drives mode transitions in the background.
type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	states   statestore.Client
	repo     store.Repository
	llmGw    *llm.RuntimeGateway
	brain    *brain.Brain
	operator *router.Operator
	sched    *scheduler.Scheduler
	channels *channel.ChannelManager
	log      *logrus.Entry

	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(ctx, cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		log:        logging.Component("gateway"),
		signalChan: opts.SignalChan,
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	// Volatile state. Unreachable Redis is fatal: the whole mode machine
	// lives there.
	if opts.States != nil {
		g.states = opts.States
	} else {
		states, err := statestore.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("state store: %w", err)
		}
		g.states = states
	}

	// Durable state.
	if opts.Repo != nil {
		g.repo = opts.Repo
	} else {
		repo, err := store.Connect(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		g.repo = repo
	}

	// Generation runtime.
	factory := opts.RuntimeFactory
	if factory == nil {
		factory = llm.DefaultRuntimeFactory
	}
	rt, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	g.llmGw = llm.NewRuntimeGateway(rt, time.Duration(cfg.Agent.RequestTimeoutSeconds)*time.Second)

	sender := &busSender{bus: g.bus}
	g.brain = brain.New(g.states, g.repo, g.llmGw, prompt.NewFactory(), sender, cfg.Presence)
	g.operator = router.NewOperator(g.states, g.brain, cfg.Presence)
	g.sched = scheduler.New(g.repo, g.states, g.brain, cfg.Presence)

	chMgr, err := channel.NewChannelManager(cfg, g.bus)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

// busSender adapts the outbound side of the bus to the reply contract.
type busSender struct {
	bus *bus.MessageBus
}

func (s *busSender) SendReply(chatID int64, text string) error {
	if text == "" {
		return nil
	}
	s.bus.PublishOutbound(bus.OutboundMessage{
		Channel: defaultChannel,
		ChatID:  chatID,
		Text:    text,
	})
	return nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	g.log.Infof("channels started: %v", g.channels.EnabledChannels())

	if err := g.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	go g.processLoop(ctx)

	g.log.Info("running")

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.log.Info("shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			// Each message is handled on its own goroutine: an immediate
			// reply turn may hold the runtime for the full request timeout
			// and must not stall routing for other conversations.
			go func(msg bus.InboundMessage) {
				if err := g.handleInbound(ctx, msg); err != nil {
					g.log.WithError(err).WithField("chat_id", msg.ChatID).Error("inbound handling failed")
				}
			}(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) error {
	cfg, err := g.lookupConfig(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	if cfg == nil {
		// Chat was never onboarded: the persona does not live here.
		return nil
	}

	participant, err := g.repo.GetParticipant(ctx, cfg.ID, msg.SenderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load participant: %w", err)
	}
	if participant != nil && participant.IsIgnored {
		return nil
	}

	payload := statestore.MessagePayload{
		UserID:         msg.SenderID,
		ChatID:         msg.ChatID,
		Text:           msg.Text,
		Timestamp:      msg.Timestamp.Unix(),
		ReplyToPersona: msg.ReplyToPersona,
	}
	if participant != nil {
		payload.Participant = &statestore.ParticipantInfo{
			ID:                participant.ID,
			Name:              participant.Name,
			Gender:            participant.Gender,
			RelationshipScore: participant.RelationshipScore,
		}
	}

	return g.operator.Route(ctx, cfg, participant, payload)
}

// lookupConfig resolves a chat to its conversation, with a state-store
// cache in front of the database. A cache miss on an unknown chat is not
// cached: onboarding must take effect on the next message.
func (g *Gateway) lookupConfig(ctx context.Context, chatID int64) (*store.ConversationConfig, error) {
	if raw, err := g.states.CachedConfig(ctx, chatID); err != nil {
		g.log.WithError(err).Warn("config cache read failed")
	} else if raw != nil {
		var cfg store.ConversationConfig
		if err := json.Unmarshal(raw, &cfg); err == nil {
			return &cfg, nil
		}
		g.log.Warn("config cache entry unreadable, falling back to database")
	}

	cfg, err := g.repo.GetConfig(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	if raw, err := json.Marshal(cfg); err == nil {
		if err := g.states.CacheConfig(ctx, chatID, raw, g.cfg.Presence.ConfigCacheTTL()); err != nil {
			g.log.WithError(err).Warn("config cache write failed")
		}
	}
	return cfg, nil
}

func (g *Gateway) Shutdown() error {
	g.sched.Stop()
	_ = g.channels.StopAll()
	if g.llmGw != nil {
		g.llmGw.Close()
	}
	if closer, ok := g.states.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	g.log.Info("shutdown complete")
	return nil
}
