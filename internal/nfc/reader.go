package nfc

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TagReader is a badge reader driver. ReadTag blocks until a tag is present
// or the context ends.
type TagReader interface {
	ReadTag(ctx context.Context) (string, error)
}

// Watch feeds tags from reader into r until ctx is done. After a successful
// read the same tap is held for the cache duration before reading again;
// after a failed read it backs off for retry.
func (r *Resolver) Watch(ctx context.Context, reader TagReader, retry time.Duration) {
	for {
		id, err := reader.ReadTag(ctx)
		wait := retry
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			r.logger.Warnw("nfc read failed", "err", err)
		case id != "":
			r.Observe(id)
			wait = r.cfg.CacheDuration
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// FileResolver stands in for the reader in debug mode: the first line of
// the file is the identity, an empty file means no tag.
type FileResolver struct {
	path   string
	logger *zap.SugaredLogger
}

func NewFileResolver(path string, logger *zap.SugaredLogger) *FileResolver {
	return &FileResolver{path: path, logger: logger}
}

func (f *FileResolver) PollIdentity(ctx context.Context) (string, bool) {
	file, err := os.Open(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warnw("nfc debug file unreadable", "path", f.path, "err", err)
		}
		return "", false
	}
	defer file.Close()
	sc := bufio.NewScanner(file)
	if !sc.Scan() {
		return "", false
	}
	id := strings.TrimSpace(sc.Text())
	if id == "" {
		return "", false
	}
	f.logger.Debugw("nfc debug id", "nfc_id", id)
	return id, true
}
