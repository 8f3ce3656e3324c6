package ports

import (
	"context"

	"github.com/layer-3/passport/core"
)

// EventPublisher publishes events to notify other instances and consumers.
type EventPublisher interface {
	PublishIdentityCreated(ctx context.Context, identity *core.Identity, method core.Method) error
	PublishMethodLinked(ctx context.Context, userID string, method core.Method) error
	PublishLogin(ctx context.Context, userID string, method core.Method, tokenID string) error
	PublishLogout(ctx context.Context, userID string, tokenID string) error
}
