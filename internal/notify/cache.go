package notify

import (
	"sync"

	"github.com/nhle/mailwatch/internal/model"
)

type cacheKey struct {
	userID   string
	platform model.Platform
	webhook  string
}

// SenderCache keeps one sender per (user, platform, webhook). Entries are
// built lazily by the factory and evicted per (user, platform).
type SenderCache struct {
	factory SenderFactory

	mu      sync.Mutex
	senders map[cacheKey]Sender
}

// NewSenderCache creates an empty cache over factory.
func NewSenderCache(factory SenderFactory) *SenderCache {
	return &SenderCache{factory: factory, senders: make(map[cacheKey]Sender)}
}

// Get returns the cached sender for the webhook, building it on first use.
func (c *SenderCache) Get(userID string, platform model.Platform, webhook string) (Sender, error) {
	key := cacheKey{userID: userID, platform: platform, webhook: webhook}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.senders[key]; ok {
		return s, nil
	}
	s, err := c.factory(platform, webhook)
	if err != nil {
		return nil, err
	}
	c.senders[key] = s
	return s, nil
}

// Invalidate evicts every sender of the user on platform. It returns once
// the entries are gone.
func (c *SenderCache) Invalidate(userID string, platform model.Platform) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.senders {
		if key.userID == userID && key.platform == platform {
			delete(c.senders, key)
		}
	}
}

// Len returns the number of cached senders.
func (c *SenderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.senders)
}
