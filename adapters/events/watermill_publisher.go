package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const (
	TopicIdentityCreated = "passport.identity.created"
	TopicMethodLinked    = "passport.identity.linked"
	TopicLogin           = "passport.login"
	TopicLogout          = "passport.logout"
)

// IdentityCreatedEvent is published once per new identity.
type IdentityCreatedEvent struct {
	UserID      string    `json:"user_id"`
	Address     string    `json:"address,omitempty"`
	Email       string    `json:"email,omitempty"`
	Method      string    `json:"method"`
	IsPermittee bool      `json:"is_permittee"`
	CreatedAt   time.Time `json:"created_at"`
}

// MethodLinkedEvent is published when an identity gains a method.
type MethodLinkedEvent struct {
	UserID string `json:"user_id"`
	Method string `json:"method"`
}

// LoginEvent represents a successful authentication
type LoginEvent struct {
	UserID  string `json:"user_id"`
	Method  string `json:"method"`
	TokenID string `json:"token_id"`
}

// LogoutEvent represents a logout event
type LogoutEvent struct {
	UserID  string `json:"user_id,omitempty"`
	TokenID string `json:"token_id"`
}

// WatermillPublisher implements ports.EventPublisher using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

func (p *WatermillPublisher) PublishIdentityCreated(ctx context.Context, identity *core.Identity, method core.Method) error {
	return p.publish(ctx, TopicIdentityCreated, IdentityCreatedEvent{
		UserID:      identity.ID,
		Address:     identity.Address,
		Email:       identity.Email,
		Method:      string(method),
		IsPermittee: identity.IsPermittee,
		CreatedAt:   identity.CreatedAt,
	})
}

func (p *WatermillPublisher) PublishMethodLinked(ctx context.Context, userID string, method core.Method) error {
	return p.publish(ctx, TopicMethodLinked, MethodLinkedEvent{UserID: userID, Method: string(method)})
}

func (p *WatermillPublisher) PublishLogin(ctx context.Context, userID string, method core.Method, tokenID string) error {
	return p.publish(ctx, TopicLogin, LoginEvent{UserID: userID, Method: string(method), TokenID: tokenID})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, userID string, tokenID string) error {
	return p.publish(ctx, TopicLogout, LogoutEvent{UserID: userID, TokenID: tokenID})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", topic, err)
	}
	return nil
}

// NopPublisher discards events. Used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) PublishIdentityCreated(context.Context, *core.Identity, core.Method) error {
	return nil
}
func (NopPublisher) PublishMethodLinked(context.Context, string, core.Method) error { return nil }
func (NopPublisher) PublishLogin(context.Context, string, core.Method, string) error {
	return nil
}
func (NopPublisher) PublishLogout(context.Context, string, string) error { return nil }
