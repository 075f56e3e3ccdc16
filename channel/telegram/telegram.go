// Package telegram provides the conversational feedback-gathering bot.
//
// Uses long polling, so no public URL or webhook is needed. The bot chats
// with users until it understands their feedback, then stores a summary
// and turns it into a pending project.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/vectorhq/vector/llm"
	"github.com/vectorhq/vector/model"
	"github.com/vectorhq/vector/pipeline"
	"github.com/vectorhq/vector/store"
)

// ProjectCreator turns aggregated feedback into a project.
type ProjectCreator interface {
	CreateProjectFromFeedback(ctx context.Context, summaries []string, repoConfigID string) (*model.Project, error)
}

// Bot is the Telegram feedback bot.
type Bot struct {
	api           *tgbotapi.BotAPI
	store         store.Store
	llm           llm.Client
	projects      ProjectCreator
	defaultRepoID string

	mu            sync.Mutex
	conversations map[int64][]llm.Message
}

// NewBot creates a feedback bot. defaultRepoID is the repo config that
// feedback-driven projects target.
func NewBot(token, defaultRepoID string, st store.Store, client llm.Client, creator ProjectCreator) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized as @%s", api.Self.UserName)

	return &Bot{
		api:           api,
		store:         st,
		llm:           client,
		projects:      creator,
		defaultRepoID: defaultRepoID,
		conversations: make(map[int64][]llm.Message),
	}, nil
}

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	log.Println("Telegram bot listening for feedback...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID

	if text == "/start" || text == "/help" {
		b.send(chatID, "Hi! Tell me what's working, what's broken, or what you wish existed. I'll turn it into a tracked change.")
		return
	}
	if text == "" {
		return
	}

	b.mu.Lock()
	history := append(b.conversations[chatID], llm.Message{Role: "user", Text: text})
	b.conversations[chatID] = history
	b.mu.Unlock()

	reply, err := b.converse(ctx, history)
	if err != nil {
		log.Printf("telegram: feedback conversation failed for chat %d: %v", chatID, err)
		b.send(chatID, "Sorry, something went wrong on my end. Mind trying again?")
		return
	}

	if summary, ok := extractSummary(reply); ok {
		b.finishConversation(ctx, chatID, summary, text)
		return
	}

	b.mu.Lock()
	b.conversations[chatID] = append(b.conversations[chatID], llm.Message{Role: "assistant", Text: reply})
	b.mu.Unlock()
	b.send(chatID, reply)
}

// converse runs the feedback dialogue through the model using plain text
// turns (no tools).
func (b *Bot) converse(ctx context.Context, history []llm.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	// Flatten history into a single prompt; the dialogue is short-lived
	// and Complete keeps the adapter surface small.
	var sb strings.Builder
	for _, m := range history {
		role := "User"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, m.Text)
	}
	sb.WriteString("Assistant:")
	return b.llm.Complete(ctx, pipeline.FeedbackSystemPrompt, sb.String())
}

func (b *Bot) finishConversation(ctx context.Context, chatID int64, summary, lastRaw string) {
	b.mu.Lock()
	delete(b.conversations, chatID)
	b.mu.Unlock()

	fb := &model.Feedback{
		ID:        uuid.NewString(),
		Source:    "telegram:" + strconv.FormatInt(chatID, 10),
		Summary:   summary,
		Raw:       lastRaw,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.CreateFeedback(fb); err != nil {
		log.Printf("telegram: storing feedback failed: %v", err)
	}

	b.send(chatID, "Got it: "+summary+"\nI'm filing this now, thank you!")

	if b.projects == nil || b.defaultRepoID == "" {
		return
	}
	p, err := b.projects.CreateProjectFromFeedback(ctx, []string{summary}, b.defaultRepoID)
	if err != nil {
		log.Printf("telegram: creating project from feedback failed: %v", err)
		return
	}
	fb.ProjectID = p.ID
	b.send(chatID, fmt.Sprintf("Tracked as %q (%s).", p.Title, p.TicketType))
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("telegram: send failed for chat %d: %v", chatID, err)
	}
}

// extractSummary pulls the terminal summary out of a bot reply, if present.
func extractSummary(reply string) (string, bool) {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, pipeline.FeedbackSummaryMarker) {
			summary := strings.TrimSpace(strings.TrimPrefix(line, pipeline.FeedbackSummaryMarker))
			if summary != "" {
				return summary, true
			}
		}
	}
	return "", false
}
