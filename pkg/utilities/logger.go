package utilities

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level string
	Dev   bool
	// Dir and FilenameTemplate describe the dated log files, e.g.
	// data/logs + "log_${date}.log". An empty Dir disables file output.
	Dir              string
	FilenameTemplate string
	// DateFormat is a Go time layout substituted for ${date}.
	DateFormat string
}

// ConfigFromEnv reads minimal config from env vars.
func ConfigFromEnv() Config {
	dev := os.Getenv("LOG_DEV") == "1"
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		if dev {
			lvl = "debug"
		} else {
			lvl = "info"
		}
	}
	dir, ok := os.LookupEnv("LOG_DIR")
	if !ok {
		dir = "data/logs"
	}
	tmpl := os.Getenv("LOG_FILENAME_TEMPLATE")
	if tmpl == "" {
		tmpl = "log_${date}.log"
	}
	layout := os.Getenv("DATE_FORMAT")
	if layout == "" {
		layout = "2006-01-02"
	}
	return Config{Level: lvl, Dev: dev, Dir: dir, FilenameTemplate: tmpl, DateFormat: layout}
}

func levelFromString(l string) zapcore.Level {
	switch l {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ExpandTemplate substitutes ${name} placeholders from vars.
func ExpandTemplate(tmpl string, vars map[string]string) string {
	return os.Expand(tmpl, func(k string) string { return vars[k] })
}

// strftimeLayout converts the common Go layout tokens into strftime verbs
// understood by rotatelogs.
var strftimeLayout = strings.NewReplacer(
	"2006", "%Y",
	"01", "%m",
	"02", "%d",
	"15", "%H",
	"04", "%M",
	"05", "%S",
)

// LogFilePattern returns the rotatelogs pattern for cfg's dated log files.
func LogFilePattern(cfg Config) string {
	name := ExpandTemplate(cfg.FilenameTemplate, map[string]string{
		"date": strftimeLayout.Replace(cfg.DateFormat),
	})
	return filepath.Join(cfg.Dir, name)
}

// Init initializes and returns a *zap.Logger
func Init(cfg Config) (*zap.Logger, error) {
	lvl := levelFromString(cfg.Level)
	if cfg.Dev {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		return c.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	sink := zapcore.AddSync(os.Stdout)
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		// maintenance prunes log files by the date in their name, so the
		// mtime based purge of rotatelogs is pushed out of the way
		rl, err := rotatelogs.New(LogFilePattern(cfg),
			rotatelogs.WithClock(rotatelogs.Local),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(365*24*time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rl))
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, lvl)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	return zap.New(core, opts...), nil
}
