// Package nfc turns badge reads into identities for the kiosk.
//
// A reader goroutine (Watch) pushes every tag it sees into the Resolver,
// which keeps it for a few seconds so one tap serves a burst of requests.
// PollIdentity waits up to the scan timeout for a fresh tap.
package nfc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	CacheDuration time.Duration
	ScanTimeout   time.Duration
	PollInterval  time.Duration
}

// Resolver holds the most recent tag read and answers identity polls.
type Resolver struct {
	cfg    Config
	logger *zap.SugaredLogger
	now    func() time.Time

	mu       sync.Mutex
	cachedID string
	cachedAt time.Time

	polls singleflight.Group
}

func NewResolver(cfg Config, logger *zap.SugaredLogger) *Resolver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Resolver{cfg: cfg, logger: logger, now: time.Now}
}

// Observe records a tag id reported by the hardware.
func (r *Resolver) Observe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedID = id
	r.cachedAt = r.now()
	r.logger.Debugw("nfc tag observed", "nfc_id", id)
}

// Clear forgets the cached tag.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedID = ""
	r.cachedAt = time.Time{}
}

func (r *Resolver) cached() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cachedID != "" && r.now().Sub(r.cachedAt) < r.cfg.CacheDuration {
		return r.cachedID, true
	}
	r.cachedID = ""
	r.cachedAt = time.Time{}
	return "", false
}

// PollIdentity returns the cached tag or waits up to the scan timeout for
// one. Concurrent callers share a single wait that no caller can cancel for
// the others; a caller whose ctx ends gets no identity.
func (r *Resolver) PollIdentity(ctx context.Context) (string, bool) {
	shared := context.WithoutCancel(ctx)
	ch := r.polls.DoChan("poll", func() (interface{}, error) {
		return r.poll(shared), nil
	})
	select {
	case <-ctx.Done():
		return "", false
	case res := <-ch:
		id, _ := res.Val.(string)
		return id, id != ""
	}
}

func (r *Resolver) poll(ctx context.Context) string {
	if id, ok := r.cached(); ok {
		return id
	}
	timeout := time.NewTimer(r.cfg.ScanTimeout)
	defer timeout.Stop()
	tick := time.NewTicker(r.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ""
		case <-timeout.C:
			r.logger.Debugw("no nfc id available")
			return ""
		case <-tick.C:
			if id, ok := r.cached(); ok {
				return id
			}
		}
	}
}
