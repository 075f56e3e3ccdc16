// Package vector is the top-level entry point for the vector coding
// workflow orchestrator.
//
// Use the Builder to compose a vector application:
//
//	app, err := vector.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := vector.NewBuilder().
//	    WithStore(myStore).
//	    WithGitProvider(myProvider).
//	    WithSandboxManager(myManager).
//	    Build()
package vector

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/vectorhq/vector/config"
	"github.com/vectorhq/vector/engine"
	"github.com/vectorhq/vector/eventbus"
	"github.com/vectorhq/vector/gitprovider"
	"github.com/vectorhq/vector/httpapi"
	"github.com/vectorhq/vector/llm"
	"github.com/vectorhq/vector/sandbox"
	"github.com/vectorhq/vector/store"
	"github.com/vectorhq/vector/verify"
)

// Channel is a long-running integration (Telegram feedback bot, etc.).
type Channel interface {
	Name() string
	Run(ctx context.Context) error
}

// Builder constructs a vector App.
type Builder struct {
	config    *config.Config
	store     store.Store
	bus       eventbus.Bus
	sandboxes sandbox.Manager
	git       gitprovider.Provider
	llm       llm.Client
	verifier  *verify.Verifier
	sessions  engine.SessionFactory
	notifier  engine.Notifier
	channels  []Channel
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the store implementation.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithSandboxManager sets the sandbox manager implementation.
func (b *Builder) WithSandboxManager(m sandbox.Manager) *Builder {
	b.sandboxes = m
	return b
}

// WithGitProvider sets the git hosting provider implementation.
func (b *Builder) WithGitProvider(g gitprovider.Provider) *Builder {
	b.git = g
	return b
}

// WithLLM sets the LLM client used for planning, enrichment and review.
func (b *Builder) WithLLM(client llm.Client) *Builder {
	b.llm = client
	return b
}

// WithVerifier sets a custom verifier.
func (b *Builder) WithVerifier(v *verify.Verifier) *Builder {
	b.verifier = v
	return b
}

// WithSessionFactory sets the coding session factory.
func (b *Builder) WithSessionFactory(f engine.SessionFactory) *Builder {
	b.sessions = f
	return b
}

// WithNotifier sets the workflow outcome notifier.
func (b *Builder) WithNotifier(n engine.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithChannel adds a channel (Telegram, etc.) to the application.
func (b *Builder) WithChannel(ch Channel) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(
		b.store,
		b.bus,
		b.sandboxes,
		b.git,
		b.llm,
		b.verifier,
		b.sessions,
		b.notifier,
		b.config.MaxIterations,
	)

	handler := httpapi.New(eng)
	poller := engine.NewPoller(eng, b.config.PollInterval)

	app := &App{
		config:   b.config,
		engine:   eng,
		handler:  handler,
		poller:   poller,
		channels: b.channels,
	}

	if err := seedRepoConfigs(app); err != nil {
		return nil, err
	}
	return app, nil
}

// App is a running vector application.
type App struct {
	config   *config.Config
	engine   *engine.Engine
	handler  *httpapi.Handler
	poller   *engine.Poller
	channels []Channel
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Start starts the HTTP server, the poller and all channels. Blocks
// until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.poller.Start(ctx)

	for _, ch := range a.channels {
		ch := ch
		go func() {
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("vector server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	a.poller.Stop()
	return a.engine.Store().Close()
}
