package ports

import (
	"context"

	"github.com/somewherelostt/Neom1/core"
)

// EventPublisher publishes session milestones to other processes
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event core.SessionEvent) error
}
