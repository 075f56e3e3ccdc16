package vector

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/vectorhq/vector/config"
	"github.com/vectorhq/vector/eventbus"
	ghProvider "github.com/vectorhq/vector/gitprovider/github"
	llmAnthropic "github.com/vectorhq/vector/llm/anthropic"
	"github.com/vectorhq/vector/sandbox"
	sshSandbox "github.com/vectorhq/vector/sandbox/ssh"
	"github.com/vectorhq/vector/session"
	sqliteStore "github.com/vectorhq/vector/store/sqlite"
	"github.com/vectorhq/vector/verify"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	if b.config == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		b.config = cfg
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// Sandbox manager: remote SSH docker when configured, local otherwise.
	if b.sandboxes == nil {
		if b.config.RemoteSandboxEnabled() {
			mgr, err := sshSandbox.New(sshSandbox.Config{
				Host:    b.config.SSHHost,
				User:    b.config.SSHUser,
				KeyPath: b.config.SSHKeyPath,
				Image:   b.config.SandboxImage,
				TTL:     b.config.SandboxTTL,
			})
			if err != nil {
				return fmt.Errorf("initializing remote sandbox manager: %w", err)
			}
			b.sandboxes = mgr
		} else {
			b.sandboxes = sandbox.NewLocalManager(
				filepath.Join(b.config.DataDir, "sandboxes"), b.config.SandboxTTL)
		}
	}

	// Git provider.
	if b.git == nil && b.config.GitHubToken != "" {
		b.git = ghProvider.New(b.config.GitHubToken)
	}

	// LLM client.
	if b.llm == nil && b.config.AnthropicAPIKey != "" {
		b.llm = llmAnthropic.New(b.config.AnthropicAPIKey, b.config.Model)
	}

	// Verifier, reusing the LLM client for review scoring.
	if b.verifier == nil {
		b.verifier = verify.New(b.llm)
	}

	// Coding session factory.
	if b.sessions == nil {
		switch b.config.SessionBackend {
		case "tooluse":
			client := b.llm
			b.sessions = func(sb sandbox.Sandbox) session.Session {
				return session.NewToolUseSession(sb, client)
			}
			if b.config.MaxIterations == 0 {
				b.config.MaxIterations = verify.DefaultToolUseIterations
			}
		default:
			b.sessions = func(sb sandbox.Sandbox) session.Session {
				return session.NewCLISession(sb)
			}
			if b.config.MaxIterations == 0 {
				b.config.MaxIterations = verify.DefaultCLIIterations
			}
		}
	}

	return nil
}

// seedRepoConfigs loads the YAML repos file (if configured) into the store.
func seedRepoConfigs(app *App) error {
	if app.config.ReposFile == "" {
		return nil
	}
	configs, err := config.LoadRepoConfigs(app.config.ReposFile, app.config.GitHubToken)
	if err != nil {
		return fmt.Errorf("loading repos file: %w", err)
	}
	for _, rc := range configs {
		if err := app.engine.Store().CreateRepoConfig(rc); err != nil {
			return fmt.Errorf("seeding repo config %s: %w", rc.ID, err)
		}
	}
	log.Printf("seeded %d repo config(s) from %s", len(configs), app.config.ReposFile)
	return nil
}
