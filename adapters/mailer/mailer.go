// Package mailer delivers magic link tokens.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/passport/ports"
	"go.uber.org/zap"
)

// TopicMagicLink carries outgoing magic link mails for a mail worker.
const TopicMagicLink = "passport.mail.magic_link"

// MagicLinkMail is the payload of TopicMagicLink.
type MagicLinkMail struct {
	Email string `json:"email"`
	Link  string `json:"link"`
}

// LinkBuilder turns a token into the URL a user clicks.
type LinkBuilder struct {
	base string
}

func NewLinkBuilder(base string) LinkBuilder {
	return LinkBuilder{base: strings.TrimRight(base, "/")}
}

func (b LinkBuilder) Link(token string) string {
	return b.base + "/" + url.PathEscape(token)
}

// WatermillMailer hands magic links to a mail worker over watermill.
type WatermillMailer struct {
	publisher message.Publisher
	links     LinkBuilder
}

func NewWatermillMailer(publisher message.Publisher, links LinkBuilder) *WatermillMailer {
	return &WatermillMailer{publisher: publisher, links: links}
}

var _ ports.Mailer = (*WatermillMailer)(nil)

func (m *WatermillMailer) SendMagicLink(ctx context.Context, email, token string) error {
	payload, err := json.Marshal(MagicLinkMail{Email: email, Link: m.links.Link(token)})
	if err != nil {
		return fmt.Errorf("failed to marshal mail: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := m.publisher.Publish(TopicMagicLink, msg); err != nil {
		return fmt.Errorf("failed to queue magic link: %w", err)
	}
	return nil
}

// LogMailer writes the link to the log instead of sending it. Development only.
type LogMailer struct {
	log   *zap.Logger
	links LinkBuilder
}

func NewLogMailer(log *zap.Logger, links LinkBuilder) *LogMailer {
	return &LogMailer{log: log.Named("mailer"), links: links}
}

var _ ports.Mailer = (*LogMailer)(nil)

func (m *LogMailer) SendMagicLink(_ context.Context, email, token string) error {
	m.log.Info("magic link", zap.String("email", email), zap.String("link", m.links.Link(token)))
	return nil
}
