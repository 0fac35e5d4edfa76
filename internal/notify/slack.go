package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackPoster is the part of the Slack client used here.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts notices to one channel.
type Slack struct {
	client  SlackPoster
	channel string
}

// NewSlack returns a notifier posting to channel.
func NewSlack(client SlackPoster, channel string) *Slack {
	return &Slack{client: client, channel: channel}
}

func (s *Slack) Notify(ctx context.Context, n Notice) error {
	message := fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message)
	if n.User != "" {
		message = fmt.Sprintf("*%s* (%s)\n\n%s", n.Title, n.User, n.Message)
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(message, false),
		slack.MsgOptionAsUser(false),
	)
	if err != nil {
		return fmt.Errorf("failed to send Slack message: %w", err)
	}
	return nil
}
