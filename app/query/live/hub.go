// Package live fans committed-height events out to websocket clients.
package live

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/bakerx/pkg/indexer"
	bakerxredis "github.com/canopy-network/bakerx/pkg/redis"
	"github.com/canopy-network/bakerx/pkg/retry"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Wildcard subscribes a client to every account.
const Wildcard = "*"

// Message types sent to clients.
const (
	TypeBlockIngested = "block.ingested"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypeInfo          = "info"
	TypeError         = "error"
)

// ServerMessage is a frame sent to websocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Subscriptions tracks the accounts one client follows.
type Subscriptions struct {
	mu       sync.RWMutex
	accounts map[string]bool
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{accounts: make(map[string]bool)}
}

func (s *Subscriptions) Subscribe(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account] = true
}

func (s *Subscriptions) Unsubscribe(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, account)
}

// Matches reports whether ev rewards any followed account.
func (s *Subscriptions) Matches(ev indexer.BlockIngested) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accounts[Wildcard] {
		return true
	}
	for _, a := range ev.Accounts {
		if s.accounts[a] {
			return true
		}
	}
	return false
}

// Client is one registered connection. Frames go out through Send until Done closes.
type Client struct {
	Subs *Subscriptions
	Send chan ServerMessage
	Done chan struct{}
	once sync.Once
}

// Close stops delivery to the client. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.Done) })
}

// Hub keeps the connected clients and delivers block events to the matching ones.
type Hub struct {
	logger  *zap.Logger
	clients *xsync.Map[uint64, *Client]
	nextID  atomic.Uint64
	dropped atomic.Uint64
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("live"),
		clients: xsync.NewMap[uint64, *Client](),
	}
}

// Register adds a client with an outgoing buffer of size frames.
func (h *Hub) Register(size int) (uint64, *Client) {
	c := &Client{
		Subs: NewSubscriptions(),
		Send: make(chan ServerMessage, size),
		Done: make(chan struct{}),
	}
	id := h.nextID.Add(1)
	h.clients.Store(id, c)
	return id, c
}

func (h *Hub) Unregister(id uint64) {
	if c, ok := h.clients.LoadAndDelete(id); ok {
		c.Close()
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	return h.clients.Size()
}

// Dropped counts frames discarded because a client was too slow.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// PublishBlock delivers ev to every subscribed client without blocking; a full buffer drops
// the frame for that client.
func (h *Hub) PublishBlock(_ context.Context, ev indexer.BlockIngested) {
	msg := ServerMessage{Type: TypeBlockIngested, Payload: ev}
	h.clients.Range(func(id uint64, c *Client) bool {
		if !c.Subs.Matches(ev) {
			return true
		}
		select {
		case c.Send <- msg:
		case <-c.Done:
		default:
			h.dropped.Add(1)
			h.logger.Warn("client too slow, dropping event", zap.Uint64("client", id), zap.Uint64("height", ev.Height))
		}
		return true
	})
}

// notify sends a frame to every client, dropping it for full buffers.
func (h *Hub) notify(msg ServerMessage) {
	h.clients.Range(func(_ uint64, c *Client) bool {
		select {
		case c.Send <- msg:
		default:
		}
		return true
	})
}

var _ indexer.Publisher = (*Hub)(nil)

// Source is satisfied by *bakerxredis.Client.
type Source interface {
	Subscribe(ctx context.Context) *redis.PubSub
}

// Relay forwards events published on Redis to the hub until ctx ends, resubscribing with
// backoff whenever the subscription drops.
func (h *Hub) Relay(ctx context.Context, src Source) {
	cfg := retry.Config{
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		Multiplier:    2,
		JitterEnabled: true,
	}
	for attempt := 1; ; attempt++ {
		err := h.relayOnce(ctx, src)
		if ctx.Err() != nil {
			h.logger.Info("redis relay stopped")
			return
		}
		if err == nil {
			attempt = 0
		}
		delay := retry.NextDelay(cfg, attempt)
		h.logger.Warn("redis subscription lost, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		h.notify(ServerMessage{Type: TypeError, Payload: map[string]interface{}{
			"message":     "event feed interrupted, reconnecting",
			"retryIn":     delay.Seconds(),
			"recoverable": true,
		}})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			h.logger.Info("redis relay stopped")
			return
		case <-timer.C:
		}
	}
}

// relayOnce returns nil when an established subscription closed, or the setup error.
func (h *Hub) relayOnce(ctx context.Context, src Source) error {
	sub := src.Subscribe(ctx)
	defer func() {
		if err := sub.Close(); err != nil {
			h.logger.Debug("closing redis subscription", zap.Error(err))
		}
	}()

	confirmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := sub.Receive(confirmCtx); err != nil {
		return fmt.Errorf("confirm redis subscription: %w", err)
	}
	h.logger.Info("relaying block events from redis")
	h.notify(ServerMessage{Type: TypeInfo, Payload: map[string]string{"message": "event feed connected"}})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := bakerxredis.DecodeBlock(msg)
			if err != nil {
				h.logger.Error("dropping undecodable event", zap.Error(err))
				continue
			}
			h.PublishBlock(ctx, ev)
		}
	}
}
