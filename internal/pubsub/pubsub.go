// Package pubsub broadcasts script-update events across dyngend
// processes sharing a script namespace, so a FanoutPipeline's registry
// swap on one process can prompt sibling processes to refresh their own
// registries from the durable store instead of drifting out of sync.
//
// Adapted from internal/queue's push notification pattern: a producer
// calls Publish after a swap, and every subscriber wakes immediately
// instead of polling the store on a fixed interval.
package pubsub

import (
	"context"
	"sync"

	"github.com/capital-g/dyngend/internal/domain"
)

// Broadcaster publishes and receives script-update notifications.
type Broadcaster interface {
	// Publish announces that hash was republished and should be
	// refreshed by any process that has it cached.
	Publish(ctx context.Context, hash domain.ScriptHash) error

	// Subscribe returns a channel of updated hashes. The channel is
	// closed when ctx is cancelled or Close is called.
	Subscribe(ctx context.Context) <-chan domain.ScriptHash

	Close() error
}

// LocalBroadcaster is an in-process, channel-based broadcaster for
// single-process deployments — no external infrastructure required.
// Mirrors queue.ChannelNotifier's non-blocking fan-out.
type LocalBroadcaster struct {
	mu          sync.Mutex
	subscribers []chan domain.ScriptHash
	closed      bool
}

func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{}
}

func (b *LocalBroadcaster) Publish(_ context.Context, hash domain.ScriptHash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- hash:
		default:
		}
	}
	return nil
}

func (b *LocalBroadcaster) Subscribe(ctx context.Context) <-chan domain.ScriptHash {
	ch := make(chan domain.ScriptHash, 8)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s == ch {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch
}

func (b *LocalBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
	return nil
}
