package slogutil

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Format string

type ReplaceAttrFunc func(groups []string, a slog.Attr) slog.Attr

type Config struct {
	Level       slog.Leveler
	ReplaceAttr ReplaceAttrFunc
	Hooks       []Hook
	AddSource   bool
	LogPath     string
}

var defaultConfig = Config{
	Level:   defaultLevel(),
	LogPath: "activity.log",
}

func mergeConfig(config ...Config) Config {
	if len(config) == 0 {
		return defaultConfig
	}

	cfg := config[0]

	if cfg.Level == nil {
		cfg.Level = defaultConfig.Level
	}

	if cfg.LogPath == "" {
		cfg.LogPath = defaultConfig.LogPath
	}

	return cfg
}

func defaultLevel() slog.Leveler {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return parseLevel(v)
	}

	return slog.LevelInfo
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RotationConfig describes where and how the activity log rotates. It
// mirrors config.LogConfig's fields without this package depending on
// the config package, since logging setup happens before config load
// errors are even formattable.
type RotationConfig struct {
	File       string
	Level      string
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Compress   bool
}

// SetupLogRotation configures slog with log rotation using lumberjack.
// If rc.File is empty, it logs to console only; otherwise it logs to
// both console and the rotated file. The returned DynamicLeveler backs
// the handler's level directly, so a later SetLevel call (e.g. from a
// DebugModeUpdater reacting to a config reload) changes verbosity on
// the already-running logger instead of a disconnected copy.
func SetupLogRotation(rc RotationConfig) (*slog.Logger, *DynamicLeveler) {
	var writer io.Writer = os.Stdout

	if rc.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   rc.File,
			MaxSize:    rc.MaxSize,
			MaxBackups: rc.MaxBackups,
			MaxAge:     rc.MaxAge,
			Compress:   rc.Compress,
		}
		writer = io.MultiWriter(os.Stdout, fileWriter)
	}

	level := rc.Level
	if level == "" {
		level = "info"
	}

	leveler := &DynamicLeveler{}
	leveler.SetLevel(parseLevel(level).Level())

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: leveler,
	})

	return slog.New(WrapHandler(handler)), leveler
}
