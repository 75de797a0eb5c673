// Package logger wraps a zap SugaredLogger with key/value redaction. The
// same *Logger is handed to the Temporal SDK, whose log.Logger interface it
// satisfies.
package logger

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New builds a logger for LOG_MODE: "prod" logs JSON at info, "test" logs
// warnings and above, anything else is the development console at debug.
func New(mode string) (*Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	level := zapcore.DebugLevel
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		level = zapcore.InfoLevel
	case "test":
		level = zapcore.WarnLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &Logger{SugaredLogger: zl.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() { _ = l.SugaredLogger.Sync() }

func (l *Logger) Debug(msg string, kv ...interface{}) { l.SugaredLogger.Debugw(msg, sanitizeKVs(kv)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.SugaredLogger.Infow(msg, sanitizeKVs(kv)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.SugaredLogger.Warnw(msg, sanitizeKVs(kv)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.SugaredLogger.Errorw(msg, sanitizeKVs(kv)...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.SugaredLogger.Fatalw(msg, sanitizeKVs(kv)...) }

func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(sanitizeKVs(kv)...)}
}

const redacted = "[REDACTED]"

// Keys containing any of these fragments never reach the log.
var secretKeyParts = []string{"token", "authorization", "password", "secret", "credentials", "dsn", "api_key"}

// Keys containing any of these fragments hold URLs, such as the dataset
// source, whose userinfo and query may carry credentials.
var urlKeyParts = []string{"url", "uri", "source"}

var redactionEnabled = sync.OnceValue(func() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		return false
	}
	return true
})

func sanitizeKVs(kv []interface{}) []interface{} {
	if len(kv) == 0 || !redactionEnabled() {
		return kv
	}
	out := make([]interface{}, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(out); i += 2 {
		key := strings.ToLower(strings.TrimSpace(fmt.Sprint(out[i])))
		switch {
		case key == "":
		case containsAny(key, secretKeyParts):
			out[i+1] = redacted
		case containsAny(key, urlKeyParts):
			if s, ok := out[i+1].(string); ok {
				out[i+1] = StripURLSecrets(s)
			}
		}
	}
	return out
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// StripURLSecrets drops userinfo and the query string from absolute URLs.
// Anything that does not parse as an absolute URL is returned unchanged.
func StripURLSecrets(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || (u.User == nil && u.RawQuery == "") {
		return raw
	}
	u.User, u.RawQuery = nil, ""
	return u.String()
}
