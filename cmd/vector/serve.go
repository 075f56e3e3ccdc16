package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	vector "github.com/vectorhq/vector"
	channelSlack "github.com/vectorhq/vector/channel/slack"
	channelTelegram "github.com/vectorhq/vector/channel/telegram"
	"github.com/vectorhq/vector/config"
	llmAnthropic "github.com/vectorhq/vector/llm/anthropic"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vector server",
	Long:  "Start the vector API server that manages coding workflows and creates PRs.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load config file into environment (non-destructive).
	loadConfigFileIntoEnv()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	llmClient := llmAnthropic.New(cfg.AnthropicAPIKey, cfg.Model)
	builder := vector.NewBuilder().WithConfig(cfg).WithLLM(llmClient)

	if cfg.SlackEnabled() {
		builder.WithNotifier(channelSlack.New(cfg.SlackBotToken, cfg.SlackChannel))
		fmt.Println("Slack notifications enabled")
	}

	// Build the app first, then add channels that need the engine.
	app, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	if cfg.TelegramEnabled() {
		bot, err := channelTelegram.NewBot(
			cfg.TelegramBotToken,
			cfg.TelegramRepoID,
			app.Engine().Store(),
			llmClient,
			app.Engine(),
		)
		if err != nil {
			fmt.Printf("Warning: failed to initialize Telegram bot: %v\n", err)
		} else {
			builder.WithChannel(namedChannel{"telegram", bot.Run})
			fmt.Println("Telegram feedback bot enabled (long polling)")
		}

		// Rebuild with channels added.
		app, err = builder.Build()
		if err != nil {
			return fmt.Errorf("rebuilding app with channels: %w", err)
		}
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}

// namedChannel adapts a run function to the vector.Channel interface.
type namedChannel struct {
	name string
	run  func(ctx context.Context) error
}

func (c namedChannel) Name() string                  { return c.name }
func (c namedChannel) Run(ctx context.Context) error { return c.run(ctx) }

// loadConfigFileIntoEnv reads ~/.vector/config.env and sets any values
// not already present in the environment.
func loadConfigFileIntoEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".vector", "config.env")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
