package lineage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"alqefari/api/internal/util"
)

const invalidationChannel = "family:lineage:invalidate"

// Publisher announces that tree members changed in a way that alters chains.
type Publisher interface {
	Publish(ctx context.Context) error
}

// RedisBus fans lineage invalidations out over Redis pub/sub so every
// process sharing the database drops its snapshot after a write.
type RedisBus struct {
	client *redis.Client
	origin string
	log    *logrus.Entry
}

func NewRedisBus(client *redis.Client, log *logrus.Entry) *RedisBus {
	return &RedisBus{client: client, origin: util.NewID("proc"), log: log.WithField("component", "lineage")}
}

func (b *RedisBus) Publish(ctx context.Context) error {
	if err := b.client.Publish(ctx, invalidationChannel, b.origin).Err(); err != nil {
		return fmt.Errorf("publish lineage invalidation: %w", err)
	}
	return nil
}

// Listen subscribes before returning, then invalidates idx for every
// announcement published by another process until ctx ends or stop is called.
func (b *RedisBus) Listen(ctx context.Context, idx *Index) (stop func(), err error) {
	sub := b.client.Subscribe(ctx, invalidationChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe lineage invalidations: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg.Payload == b.origin {
					continue
				}
				idx.Invalidate()
				b.log.WithField("from", msg.Payload).Debug("lineage invalidated by peer")
			}
		}
	}()
	return func() {
		cancel()
		_ = sub.Close()
		<-done
	}, nil
}
