package authz

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/portcullis/pkg/observability"
)

// Redis channels carrying grant-mutation signals from the administrative
// write path. The core never mutates grants itself; subscribing to these
// is the only write-side contract it has with its environment.
const (
	ChannelRoleGrantsChanged     = "portcullis:role_grants_changed"
	ChannelDepartmentTreeChanged = "portcullis:department_tree_changed"
)

// SignalBus subscribes to invalidation signals and applies them to the
// bundle cache and department index.
type SignalBus struct {
	client *redis.Client
	cache  *BundleCache
	depts  *DeptIndex
	source DepartmentSource
	logger *observability.Logger
}

// NewSignalBus creates a bus over an existing redis client.
func NewSignalBus(client *redis.Client, cache *BundleCache, depts *DeptIndex, source DepartmentSource, logger *observability.Logger) *SignalBus {
	return &SignalBus{client: client, cache: cache, depts: depts, source: source, logger: logger}
}

// Run subscribes and processes signals until ctx is canceled. It returns
// the subscription error if the initial subscribe fails; after that,
// individual malformed messages are logged and skipped.
func (b *SignalBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, ChannelRoleGrantsChanged, ChannelDepartmentTreeChanged)
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe invalidation channels: %w", err)
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, msg)
		}
	}
}

func (b *SignalBus) handle(ctx context.Context, msg *redis.Message) {
	switch msg.Channel {
	case ChannelRoleGrantsChanged:
		roleID, err := strconv.ParseInt(msg.Payload, 10, 64)
		if err != nil {
			b.logger.WithError(err).Warnf("ignoring malformed role invalidation payload %q", msg.Payload)
			return
		}
		b.cache.InvalidateRole(roleID)
		b.logger.WithField("role_id", roleID).Debug("invalidated cached bundles for role")

	case ChannelDepartmentTreeChanged:
		// Rebuilding bumps the snapshot version, which stales every
		// cached bundle built under the old tree.
		if err := b.depts.Rebuild(ctx, b.source); err != nil {
			b.logger.WithError(err).Error("department tree rebuild failed; keeping previous snapshot")
			return
		}
		b.logger.WithField("version", b.depts.Version()).Info("department tree rebuilt")
	}
}

// PublishRoleGrantsChanged notifies all subscribers that the grants of a
// role were mutated. Called by the administrative write path.
func PublishRoleGrantsChanged(ctx context.Context, client *redis.Client, roleID int64) error {
	return client.Publish(ctx, ChannelRoleGrantsChanged, strconv.FormatInt(roleID, 10)).Err()
}

// PublishDepartmentTreeChanged notifies all subscribers that the
// department hierarchy was mutated.
func PublishDepartmentTreeChanged(ctx context.Context, client *redis.Client) error {
	return client.Publish(ctx, ChannelDepartmentTreeChanged, "").Err()
}
