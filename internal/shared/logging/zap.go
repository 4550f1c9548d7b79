package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const levelEnv = "CONCOPILOT_LOG_LEVEL"

var (
	baseMu     sync.RWMutex
	baseSugar  *zap.SugaredLogger
	baseLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	configOnce sync.Once
)

// Options controls the process-wide zap backend.
type Options struct {
	// Level is one of debug, info, warn, error. Empty keeps the current level.
	Level string
	// JSON switches the encoder from console to JSON output.
	JSON bool
}

// Configure replaces the process-wide backend. Loggers created earlier keep
// their previous core but share the atomic level.
func Configure(opts Options) error {
	if opts.Level != "" {
		if err := SetLevel(opts.Level); err != nil {
			return err
		}
	}

	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = baseLevel
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	baseMu.Lock()
	baseSugar = logger.Sugar()
	baseMu.Unlock()
	return nil
}

// SetLevel updates the shared atomic level.
func SetLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return err
	}
	baseLevel.SetLevel(lvl)
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	baseMu.RLock()
	sugar := baseSugar
	baseMu.RUnlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
}

func base() *zap.SugaredLogger {
	configOnce.Do(func() {
		baseMu.RLock()
		configured := baseSugar != nil
		baseMu.RUnlock()
		if configured {
			return
		}
		if lvl := os.Getenv(levelEnv); lvl != "" {
			_ = SetLevel(lvl)
		}
		if err := Configure(Options{}); err != nil {
			baseMu.Lock()
			baseSugar = zap.NewNop().Sugar()
			baseMu.Unlock()
		}
	})
	baseMu.RLock()
	defer baseMu.RUnlock()
	return baseSugar
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapLogger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Info(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warn(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }
