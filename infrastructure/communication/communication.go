package communication

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

type Slack struct {
	client  *slack.Client
	options SlackOption
}

type SlackOption struct {
	InfoChannelID  string
	ErrorChannelID string
}

func NewSlack(token string, options SlackOption, opts ...slack.Option) *Slack {
	client := slack.New(token, opts...)
	return &Slack{client: client, options: options}
}

func (s *Slack) postMessage(ctx context.Context, channelID string, msgOpts ...slack.MsgOption) error {
	if channelID == "" {
		return nil
	}
	msgOpts = append(msgOpts, slack.MsgOptionAsUser(true))
	if _, _, err := s.client.PostMessageContext(ctx, channelID, msgOpts...); err != nil {
		return fmt.Errorf("failed to post message to Slack: %w", err)
	}
	return nil
}

func (s *Slack) Info(ctx context.Context, message string) error {
	return s.postMessage(ctx, s.options.InfoChannelID, slack.MsgOptionText(message, false))
}

func (s *Slack) Error(ctx context.Context, message string) error {
	return s.postMessage(ctx, s.options.ErrorChannelID, slack.MsgOptionText(message, false))
}

// Notify posts an alert with the detail as a red attachment to the error
// channel.
func (s *Slack) Notify(ctx context.Context, title, detail string) error {
	attachment := slack.Attachment{
		Color: "danger",
		Title: title,
		Text:  detail,
	}
	return s.postMessage(ctx, s.options.ErrorChannelID,
		slack.MsgOptionText(title, false),
		slack.MsgOptionAttachments(attachment),
	)
}
