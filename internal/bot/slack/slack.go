// Package slack posts mint notifications to Slack channels.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/poapbot/internal/bot"
	"github.com/zulandar/poapbot/internal/mint"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier implements mint.Sink for Slack. It only posts; nothing is read
// from Slack.
type Notifier struct {
	client  slackClient
	now     func() time.Time
	backoff time.Duration // base wait when Slack gives no Retry-After

	mu        sync.Mutex
	botUserID string
}

// NotifierOpts holds parameters for creating a Notifier.
type NotifierOpts struct {
	BotToken string // xoxb-... Slack bot token
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
	Now    func() time.Time
}

// NewNotifier creates a Slack Notifier.
func NewNotifier(opts NotifierOpts) (*Notifier, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	n := &Notifier{
		client:  opts.Client,
		now:     opts.Now,
		backoff: time.Second,
	}
	if n.client == nil {
		n.client = slackapi.New(opts.BotToken)
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n, nil
}

// Verify checks the token with auth.test and records the bot user ID.
func (n *Notifier) Verify(ctx context.Context) error {
	auth, err := n.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	n.mu.Lock()
	n.botUserID = auth.UserID
	n.mu.Unlock()
	return nil
}

// BotUserID returns the user ID recorded by Verify.
func (n *Notifier) BotUserID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.botUserID
}

// Notify posts a mint card to channelID.
func (n *Notifier) Notify(ctx context.Context, channelID string, notice mint.Notice) error {
	if channelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}
	card := bot.MintCard(notice, n.now().UTC())
	options := buildMessageOptions(card)

	err := retryOnRateLimit(ctx, n.backoff, func() error {
		_, _, postErr := n.client.PostMessage(channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// buildMessageOptions renders a card as a legacy attachment with the title
// as fallback text.
func buildMessageOptions(c bot.Card) []slackapi.MsgOption {
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(c.Title, false),
		slackapi.MsgOptionAttachments(cardToAttachment(c)),
		slackapi.MsgOptionDisableLinkUnfurl(),
	}
}

// cardToAttachment converts a Card to a Slack Attachment.
func cardToAttachment(c bot.Card) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:      c.Title,
		TitleLink:  c.URL,
		Text:       markdownLinks(c.Body),
		Color:      c.Color,
		Fallback:   c.Title,
		ThumbURL:   c.ImageURL,
		Footer:     c.Footer,
		MarkdownIn: []string{"text"},
	}
	if !c.Time.IsZero() {
		att.Ts = slackTimestamp(c.Time)
	}
	for _, f := range c.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Inline,
		})
	}
	return att
}

func slackTimestamp(t time.Time) json.Number {
	return json.Number(strconv.FormatInt(t.Unix(), 10))
}

// markdownLinks rewrites [label](url) links into Slack's <url|label> form.
func markdownLinks(s string) string {
	var b strings.Builder
	for {
		open := strings.Index(s, "[")
		if open < 0 {
			break
		}
		mid := strings.Index(s[open:], "](")
		if mid < 0 {
			break
		}
		mid += open
		end := strings.Index(s[mid:], ")")
		if end < 0 {
			break
		}
		end += mid
		label, url := s[open+1:mid], s[mid+2:end]
		b.WriteString(s[:open])
		fmt.Fprintf(&b, "<%s|%s>", url, label)
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, base time.Duration, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * base
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
