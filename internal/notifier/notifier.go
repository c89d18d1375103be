// Package notifier provides digest delivery channel implementations.
package notifier

import (
	"context"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

// Notifier is the interface for delivering KPI digests to external channels.
type Notifier interface {
	// Send delivers the digest to the channel.
	Send(ctx context.Context, digest *model.Digest) error

	// Name returns the name of the notifier.
	Name() string
}
