package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/hearth/internal/config"
)

// Runtime is the slice of the agent runtime the gateway needs. Tests
// substitute a fake.
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close() error
}

// RuntimeFactory creates a Runtime instance.
type RuntimeFactory func(cfg *config.Config) (Runtime, error)

// DefaultRuntimeFactory builds the agentsdk-go runtime with the configured
// provider.
func DefaultRuntimeFactory(cfg *config.Config) (Runtime, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'hearth onboard' or set HEARTH_API_KEY")
	}

	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:  cfg.Agent.Workspace,
		ModelFactory: provider,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return rt, nil
}

// RuntimeGateway implements Gateway on an agent runtime. Stateful sessions
// ride on the runtime's per-SessionID conversation history; ending a
// session drops the mapping so the next start gets a fresh history key.
type RuntimeGateway struct {
	rt      Runtime
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]string // session id -> runtime session key
}

func NewRuntimeGateway(rt Runtime, timeout time.Duration) *RuntimeGateway {
	return &RuntimeGateway{
		rt:       rt,
		timeout:  timeout,
		sessions: make(map[string]string),
	}
}

func (g *RuntimeGateway) Close() {
	_ = g.rt.Close()
}

func (g *RuntimeGateway) run(ctx context.Context, sessionKey, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.rt.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: sessionKey,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return resp.Result.Output, nil
}

// GenerateSingle performs one stateless call with no session affinity.
func (g *RuntimeGateway) GenerateSingle(ctx context.Context, prompt string) (string, error) {
	key := fmt.Sprintf("oneshot-%d", time.Now().UnixNano())
	return g.run(ctx, key, prompt)
}

// StartSession opens a stateful session. Starting an already-open session
// restarts it with a clean history.
func (g *RuntimeGateway) StartSession(ctx context.Context, sessionID string, prompt string) (string, error) {
	key := fmt.Sprintf("session-%s-%d", sessionID, time.Now().UnixNano())

	g.mu.Lock()
	if _, exists := g.sessions[sessionID]; exists {
		log.WithField("session_id", sessionID).Warn("session already open, restarting")
	}
	g.sessions[sessionID] = key
	g.mu.Unlock()

	reply, err := g.run(ctx, key, prompt)
	if err != nil {
		g.EndSession(sessionID)
		return "", err
	}
	return reply, nil
}

func (g *RuntimeGateway) ContinueSession(ctx context.Context, sessionID string, prompt string) (string, error) {
	g.mu.Lock()
	key, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}
	return g.run(ctx, key, prompt)
}

// EndSession is idempotent; ending an unknown session is a no-op.
func (g *RuntimeGateway) EndSession(sessionID string) {
	g.mu.Lock()
	delete(g.sessions, sessionID)
	g.mu.Unlock()
}
