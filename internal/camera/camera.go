// Package camera supplies the checkout photo.
package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FrameCamera keeps the latest JPEG frame published by a capture loop.
// CaptureImage returns nil when no frame arrived within the timeout, which
// the checkout treats as a failed capture.
type FrameCamera struct {
	timeout time.Duration
	logger  *zap.SugaredLogger
	now     func() time.Time

	mu      sync.Mutex
	frame   []byte
	frameAt time.Time
}

func NewFrameCamera(timeout time.Duration, logger *zap.SugaredLogger) *FrameCamera {
	return &FrameCamera{timeout: timeout, logger: logger, now: time.Now}
}

// Publish stores a new frame. The slice must not be modified afterwards.
func (c *FrameCamera) Publish(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = frame
	c.frameAt = c.now()
}

func (c *FrameCamera) CaptureImage(ctx context.Context) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil {
		c.logger.Warnw("no camera frame available")
		return nil
	}
	if age := c.now().Sub(c.frameAt); age > c.timeout {
		c.logger.Warnw("camera frame is stale", "age", age)
		return nil
	}
	return c.frame
}

// FrameSource is a camera driver. NextFrame blocks until a JPEG frame is
// ready or the context ends.
type FrameSource interface {
	NextFrame(ctx context.Context) ([]byte, error)
}

// Feed publishes frames from src until ctx is done, backing off for retry
// after a failed read.
func (c *FrameCamera) Feed(ctx context.Context, src FrameSource, retry time.Duration) {
	for {
		frame, err := src.NextFrame(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil && frame != nil {
			c.Publish(frame)
			continue
		}
		if err != nil {
			c.logger.Warnw("camera read failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// DebugCamera cycles through still frames 1.jpg, 2.jpg and 3.jpg.
type DebugCamera struct {
	frames    [][]byte
	framerate float64
	now       func() time.Time
}

// NewDebugCamera loads the still frames from dir.
func NewDebugCamera(dir string, framerate float64) (*DebugCamera, error) {
	if framerate <= 0 {
		framerate = 30
	}
	c := &DebugCamera{framerate: framerate, now: time.Now}
	for _, name := range []string{"1.jpg", "2.jpg", "3.jpg"} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("load debug frame: %w", err)
		}
		c.frames = append(c.frames, b)
	}
	return c, nil
}

func (c *DebugCamera) CaptureImage(ctx context.Context) []byte {
	t := c.now()
	tick := int64(float64(t.UnixNano()) / 1e9 * c.framerate)
	return c.frames[tick%int64(len(c.frames))]
}
