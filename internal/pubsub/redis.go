package pubsub

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/capital-g/dyngend/internal/domain"
)

const redisChannel = "dyngend:script-updated"

// RedisBroadcaster is a distributed broadcaster using Redis PUBLISH/
// SUBSCRIBE so multiple dyngend worker processes sharing a script
// namespace converge on the same registry state. Grounded on
// internal/queue's RedisNotifier, adapted from generic QueueType signals
// to carrying the updated ScriptHash itself as the payload.
type RedisBroadcaster struct {
	client *redis.Client
	mu     sync.Mutex
	subs   []*redisSub
	closed bool
}

type redisSub struct {
	ch     chan domain.ScriptHash
	cancel context.CancelFunc
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, hash domain.ScriptHash) error {
	return b.client.Publish(ctx, redisChannel, strconv.Itoa(int(hash))).Err()
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context) <-chan domain.ScriptHash {
	ch := make(chan domain.ScriptHash, 8)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSub{ch: ch, cancel: cancel}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	rdb := b.client.Subscribe(subCtx, redisChannel)

	go func() {
		defer rdb.Close()
		msgCh := rdb.Channel()
		for {
			select {
			case <-subCtx.Done():
				if b.removeSub(sub) {
					close(ch)
				}
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				n, err := strconv.Atoi(msg.Payload)
				if err != nil {
					continue
				}
				select {
				case ch <- domain.ScriptHash(n):
				default:
				}
			}
		}
	}()

	return ch
}

func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		s.cancel()
		close(s.ch)
	}
	b.subs = nil
	return nil
}

func (b *RedisBroadcaster) removeSub(target *redisSub) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}
