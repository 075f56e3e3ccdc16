// Package slack posts workflow outcome notifications to a Slack channel.
package slack

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"
)

// Notifier implements engine.Notifier by posting messages to a channel.
type Notifier struct {
	api     *slack.Client
	channel string
}

// New creates a notifier posting to the given channel ID.
func New(botToken, channel string) *Notifier {
	return &Notifier{
		api:     slack.New(botToken),
		channel: channel,
	}
}

// Notify posts a workflow update. Fire-and-forget: failures are logged.
func (n *Notifier) Notify(projectID, title, message string) {
	header := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("*%s*", title), false, false)
	body := slack.NewTextBlockObject(slack.MarkdownType, message, false, false)
	ctxBlock := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, "project "+projectID, false, false))

	_, _, err := n.api.PostMessage(n.channel,
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(header, nil, nil),
			slack.NewSectionBlock(body, nil, nil),
			ctxBlock,
		),
	)
	if err != nil {
		log.Printf("slack: notification for project %s failed: %v", projectID, err)
	}
}
