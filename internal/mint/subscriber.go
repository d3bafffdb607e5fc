package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/nats-io/nats.go"
)

// TokenHandler receives the ID of a minted token.
type TokenHandler func(ctx context.Context, tokenID string)

// Subscriber consumes minted-token IDs from a NATS subject.
type Subscriber struct {
	url     string
	subject string
	log     *slog.Logger
}

// SubscriberOpts holds parameters for creating a Subscriber.
type SubscriberOpts struct {
	URL     string
	Subject string
	Logger  *slog.Logger
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(opts SubscriberOpts) (*Subscriber, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("mint: nats url is required")
	}
	if opts.Subject == "" {
		return nil, fmt.Errorf("mint: nats subject is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{url: opts.URL, subject: opts.Subject, log: logger.With("component", "mint-subscriber")}, nil
}

// Run connects to NATS and calls handle for every token ID received, one
// at a time, until ctx is cancelled. A server that is down at startup is
// retried in the background like any later disconnect.
func (s *Subscriber) Run(ctx context.Context, handle TokenHandler) error {
	nc, err := nats.Connect(s.url,
		nats.Name("poapbot"),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(c *nats.Conn) {
			s.log.Info("mint: nats connected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.log.Warn("mint: nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.log.Info("mint: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("mint: connect nats: %w", err)
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return fmt.Errorf("mint: subscribe %s: %w", s.subject, err)
	}
	s.log.Info("mint: subscribed", "subject", s.subject)

	for {
		select {
		case <-ctx.Done():
			if err := sub.Unsubscribe(); err != nil {
				s.log.Warn("mint: unsubscribe", "error", err)
			}
			return nil
		case msg := <-msgs:
			id, err := ParseTokenID(msg.Data)
			if err != nil {
				s.log.Warn("mint: bad message", "subject", msg.Subject, "error", err)
				continue
			}
			handle(ctx, id)
		}
	}
}

var tokenIDRe = regexp.MustCompile(`^[0-9]+$`)

// ParseTokenID extracts a token ID from a message body. The body is either
// the bare ID or a JSON object with a tokenId or token_id field.
func ParseTokenID(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if tokenIDRe.Match(data) {
		return string(data), nil
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return "", fmt.Errorf("mint: token message is neither an id nor json: %q", truncate(string(data), 64))
	}
	for _, key := range []string{"tokenId", "token_id", "id"} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && tokenIDRe.MatchString(s) {
			return s, nil
		}
		var n uint64
		if err := json.Unmarshal(raw, &n); err == nil {
			return strconv.FormatUint(n, 10), nil
		}
	}
	return "", fmt.Errorf("mint: no token id in message")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
