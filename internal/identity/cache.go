// Package identity memoizes the badge identity of one kiosk session so a
// single interaction polls the reader at most once.
package identity

import (
	"context"

	"go.uber.org/zap"
)

// SessionKey is the session value holding the cached identity. An empty
// string caches "no identity".
const SessionKey = "nfc_id"

// Resolver is the hardware side: it blocks up to its own timeout and reports
// false when no tag was presented.
type Resolver interface {
	PollIdentity(ctx context.Context) (string, bool)
}

// Cache reads and writes the identity in a per-session value map, such as
// the Values of a gorilla session.
type Cache struct {
	values   map[interface{}]interface{}
	resolver Resolver
	logger   *zap.SugaredLogger
}

func NewCache(values map[interface{}]interface{}, resolver Resolver, logger *zap.SugaredLogger) *Cache {
	return &Cache{values: values, resolver: resolver, logger: logger}
}

// Resolve returns the cached identity, polling the resolver only when the
// session holds no entry. Negative results are cached too, except when ctx
// ended during the poll.
func (c *Cache) Resolve(ctx context.Context) (string, bool) {
	if v, ok := c.values[SessionKey]; ok {
		id, _ := v.(string)
		c.logger.Debugw("identity from session cache", "nfc_id", id)
		return id, id != ""
	}
	id, ok := c.resolver.PollIdentity(ctx)
	if !ok {
		id = ""
		if ctx.Err() != nil {
			return "", false
		}
	}
	c.values[SessionKey] = id
	c.logger.Debugw("identity from resolver", "nfc_id", id, "found", ok)
	return id, ok
}

// Invalidate drops the cached entry; the next Resolve polls again.
func (c *Cache) Invalidate() {
	delete(c.values, SessionKey)
}
