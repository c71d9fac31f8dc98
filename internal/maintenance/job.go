package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-rental-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-rental-go/pkg/utilities"
)

// Store is what the daily job needs from the persistent store.
type Store interface {
	Backup(ctx context.Context, dest string) error
	DeleteInactiveUsers(ctx context.Context, cutoff time.Time) int
}

type Config struct {
	BackupDir              string
	BackupFilenameTemplate string
	LogDir                 string
	LogFilenameTemplate    string
	// DateFormat is the Go layout substituted for ${date} in both templates.
	DateFormat string

	KeepBackupsDays     int
	KeepLogsDays        int
	InactivityLimitDays int
}

// Job is the daily housekeeping run.
type Job struct {
	store   Store
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewJob(store Store, cfg Config, m *metrics.Metrics, logger *zap.SugaredLogger) *Job {
	return &Job{store: store, cfg: cfg, metrics: m, logger: logger, now: time.Now}
}

// Run backs up the store, prunes expired backups, removes inactive users and
// prunes expired logs. A failing step is logged and the remaining steps
// still run; the joined step errors are returned.
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()
	log := j.logger.With("run_id", utilities.NewKSUID())
	log.Infow("starting maintenance job")

	var errs []error

	dest := filepath.Join(j.cfg.BackupDir, datedName(j.cfg.BackupFilenameTemplate, now.Format(j.cfg.DateFormat)))
	if err := j.store.Backup(ctx, dest); err != nil {
		log.Errorw("database backup failed", "dest", dest, "err", err)
		errs = append(errs, err)
	} else {
		log.Infow("saved database backup", "dest", dest)
	}

	removed, err := PruneDated(j.cfg.BackupDir, j.cfg.BackupFilenameTemplate, j.cfg.DateFormat, j.cfg.KeepBackupsDays, now)
	if err != nil {
		log.Errorw("pruning backups failed", "err", err)
		errs = append(errs, fmt.Errorf("prune backups: %w", err))
	}
	if len(removed) > 0 {
		log.Infow("removed database backups", "files", removed)
	}
	j.metrics.AddFilesPruned("backup", len(removed))

	cutoff := now.AddDate(0, 0, -j.cfg.InactivityLimitDays)
	n := j.store.DeleteInactiveUsers(ctx, cutoff)
	log.Infow("removed inactive users", "count", n, "cutoff", cutoff.Unix())
	j.metrics.AddInactiveUsersPruned(n)

	removed, err = PruneDated(j.cfg.LogDir, j.cfg.LogFilenameTemplate, j.cfg.DateFormat, j.cfg.KeepLogsDays, now)
	if err != nil {
		log.Errorw("pruning logs failed", "err", err)
		errs = append(errs, fmt.Errorf("prune logs: %w", err))
	}
	if len(removed) > 0 {
		log.Infow("removed log files", "files", removed)
	}
	j.metrics.AddFilesPruned("log", len(removed))

	err = errors.Join(errs...)
	j.metrics.ObserveMaintenance(start, err != nil)
	log.Infow("finished maintenance job", "duration", time.Since(start), "failed", err != nil)
	return err
}

func datedName(tmpl, date string) string {
	return utilities.ExpandTemplate(tmpl, map[string]string{"date": date})
}

// PruneDated deletes the files in dir named after tmpl whose embedded date is
// not one of today and the keepDays days before. Only the name is looked at,
// never the modification time. A missing dir is not an error.
func PruneDated(dir, tmpl, layout string, keepDays int, now time.Time) ([]string, error) {
	keep := make(map[string]bool, keepDays+1)
	for i := 0; i <= keepDays; i++ {
		keep[datedName(tmpl, now.AddDate(0, 0, -i).Format(layout))] = true
	}
	pattern := datedName(tmpl, "*")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var removed []string
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		match, err := filepath.Match(pattern, name)
		if err != nil {
			return removed, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if !match || keep[name] {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}
