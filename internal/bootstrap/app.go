// Package bootstrap builds the application graph from config: storage,
// collaborator, services and the HTTP handler.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	httpadapter "github.com/niallgpt/niallgpt/internal/adapters/http"
	"github.com/niallgpt/niallgpt/internal/adapters/llm"
	boltstore "github.com/niallgpt/niallgpt/internal/adapters/storage/bolt"
	firestorestore "github.com/niallgpt/niallgpt/internal/adapters/storage/firestore"
	memstore "github.com/niallgpt/niallgpt/internal/adapters/storage/memory"
	"github.com/niallgpt/niallgpt/internal/app/chat"
	"github.com/niallgpt/niallgpt/internal/app/media"
	"github.com/niallgpt/niallgpt/internal/app/profile"
	"github.com/niallgpt/niallgpt/internal/app/sessions"
	"github.com/niallgpt/niallgpt/internal/app/stream"
	"github.com/niallgpt/niallgpt/internal/config"
	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

// Collaborator is a model that can both stream chat and run one-shot calls.
type Collaborator interface {
	domain.ChatModel
	domain.Generator
}

type App struct {
	Config   *config.Config
	KV       domain.KVStore
	Profile  *profile.Profile
	Sessions *sessions.Store
	Media    *media.Service
	Chat     *chat.Orchestrator
	Events   *httpadapter.Broker
}

type options struct {
	kv        domain.KVStore
	model     Collaborator
	observers []chat.Observer
	alert     func(error)
}

type Option func(*options)

// WithKVStore skips the configured storage backend.
func WithKVStore(kv domain.KVStore) Option {
	return func(o *options) { o.kv = kv }
}

// WithCollaborator skips the configured model backend.
func WithCollaborator(m Collaborator) Option {
	return func(o *options) { o.model = m }
}

// WithObserver adds a message observer next to the SSE broker.
func WithObserver(obs chat.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithAlert receives the one-shot persistence failure alert in addition to
// the log line and the SSE alert frame.
func WithAlert(fn func(error)) Option {
	return func(o *options) { o.alert = fn }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	events := httpadapter.NewBroker(0)
	alert := func(err error) {
		observability.Logger().Error("changes are not being saved", "error", err)
		events.Alert(fmt.Errorf("changes are not being saved: %w", err))
		if o.alert != nil {
			o.alert(err)
		}
	}

	kv := o.kv
	if kv == nil {
		var err error
		kv, err = OpenKVStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	model := o.model
	if model == nil {
		var err error
		model, err = NewCollaborator(ctx, cfg)
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
	}

	prof := profile.New(kv, profile.Settings{
		UserName:   cfg.DefaultUserName,
		AIBehavior: cfg.DefaultAIBehavior,
	})
	if err := prof.Load(ctx); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	store := sessions.NewStore(kv, prof, sessions.WithAlert(alert))
	if err := store.Load(ctx); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("loading sessions: %w", err)
	}

	observers := append([]chat.Observer{events}, o.observers...)

	mediaSvc := media.NewService(model, cfg.VideoPollInterval, cfg.VideoMaxAttempts)
	orch := chat.NewOrchestrator(store, prof, stream.NewClient(model), mediaSvc,
		chat.WithObserver(fanOut(observers)),
		chat.WithSearch(cfg.SearchEnabled),
	)

	return &App{
		Config:   cfg,
		KV:       kv,
		Profile:  prof,
		Sessions: store,
		Media:    mediaSvc,
		Chat:     orch,
		Events:   events,
	}, nil
}

// Handler returns the HTTP API with the configured rate limit.
func (a *App) Handler() http.Handler {
	var limiter *rate.Limiter
	if a.Config.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.Config.RateLimitPerSecond), a.Config.RateLimitBurst)
	}

	return httpadapter.NewServer(httpadapter.Deps{
		Sessions: a.Sessions,
		Chat:     a.Chat,
		Profile:  a.Profile,
		Media:    a.Media,
		Events:   a.Events,
		Limiter:  limiter,
	})
}

// Close aborts any in-flight turn and releases storage.
func (a *App) Close() error {
	a.Chat.Stop()
	return a.KV.Close()
}

// OpenKVStore opens the configured storage backend.
func OpenKVStore(ctx context.Context, cfg *config.Config) (domain.KVStore, error) {
	log := observability.Logger()

	switch cfg.StorageBackend {
	case "firestore":
		log.Info("using firestore storage", "project", cfg.GCPProjectID, "collection", cfg.FirestoreCollection)
		store, err := firestorestore.NewStore(ctx, cfg.GCPProjectID, cfg.FirestoreCollection)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "bolt":
		log.Info("using bolt storage", "path", cfg.BoltPath)
		store, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		log.Info("using in-memory storage")
		return memstore.NewKVStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// NewCollaborator returns the mock or the genai-backed model.
func NewCollaborator(ctx context.Context, cfg *config.Config) (Collaborator, error) {
	log := observability.Logger()

	if cfg.UseMockLLM {
		log.Info("using mock LLM")
		return llm.NewMockLLM(), nil
	}

	gc := llm.GeminiConfig{
		APIKey:     cfg.APIKey,
		ChatModel:  cfg.ChatModel,
		ImageModel: cfg.ImageModel,
		VideoModel: cfg.VideoModel,
		TextModel:  cfg.TextModel,
	}
	if cfg.APIKey == "" {
		gc.Project = cfg.GCPProjectID
		gc.Location = cfg.GCPLocation
	}

	client, err := llm.NewGeminiClient(ctx, gc)
	if err != nil {
		return nil, fmt.Errorf("initializing gemini client: %w", err)
	}
	log.Info("using gemini", "chat_model", cfg.ChatModel, "vertex", cfg.APIKey == "")
	return client, nil
}

type fanOut []chat.Observer

func (f fanOut) MessageUpdated(sessionID domain.SessionID, msg *domain.Message) {
	for _, obs := range f {
		obs.MessageUpdated(sessionID, msg)
	}
}
