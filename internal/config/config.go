// Package config collects the station settings read once at startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-rental-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-rental-go/pkg/utilities"
)

type Config struct {
	Debug bool

	Database database.Config
	Log      utilities.Config

	BackupDir              string
	BackupFilenameTemplate string
	DateFormat             string
	KeepBackupsDays        int
	KeepLogsDays           int
	InactivityLimitDays    int

	HTTPAddr      string
	SessionSecret string
	// UserTemplate renders the identity line shown to a known user.
	UserTemplate string

	NFCCacheDuration time.Duration
	NFCScanTimeout   time.Duration
	NFCPollInterval  time.Duration
	NFCDebugFile     string

	CameraDebugDir string
	CameraTimeout  time.Duration

	SnowflakeNode int64

	SchedulerStopTimeout time.Duration
	// MaintenanceFireSpec is a six field cron spec for the daily run.
	MaintenanceFireSpec string
}

// Load reads the configuration from the environment. Unset or malformed
// values fall back to their defaults.
func Load() Config {
	debug := getBool("DEBUG", false)
	logCfg := utilities.ConfigFromEnv()
	if debug && os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = "debug"
	}
	return Config{
		Debug:    debug,
		Database: database.ConfigFromEnv(),
		Log:      logCfg,

		BackupDir:              getenv("BACKUP_DIR", "data/db_backups"),
		BackupFilenameTemplate: getenv("BACKUP_FILENAME_TEMPLATE", "backup_${date}.db"),
		DateFormat:             logCfg.DateFormat,
		KeepBackupsDays:        getInt("KEEP_BACKUPS_DAYS", 2),
		KeepLogsDays:           getInt("KEEP_LOGS_DAYS", 14),
		InactivityLimitDays:    getInt("INACTIVITY_LIMIT_DAYS", 180),

		HTTPAddr:      getenv("HTTP_ADDR", "127.0.0.1:5000"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		UserTemplate:  getenv("CURRENT_USER_TEMPLATE", "${given_name} ${surname}, ${room}"),

		NFCCacheDuration: getDuration("NFC_CACHE_DURATION", 5*time.Second),
		NFCScanTimeout:   getDuration("NFC_SCAN_TIMEOUT", 3*time.Second),
		NFCPollInterval:  getDuration("NFC_POLL_INTERVAL", 100*time.Millisecond),
		NFCDebugFile:     getenv("NFC_DEBUG_FILE", "tests/res/nfc.txt"),

		CameraDebugDir: getenv("CAMERA_DEBUG_DIR", "tests/res"),
		CameraTimeout:  getDuration("CAMERA_TIMEOUT", 10*time.Second),

		SnowflakeNode: utilities.NodeFromEnv(),

		SchedulerStopTimeout: getDuration("SCHEDULER_STOP_TIMEOUT", 3*time.Second),
		MaintenanceFireSpec:  getenv("MAINTENANCE_FIRE_SPEC", "0 1 0 * * *"),
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getenv(key, def.String()))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
