// Package logging configures logrus and carries request-scoped entries in contexts.
package logging

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// New builds the process logger. format is "json" or "text".
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if strings.EqualFold(format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// WithEntry returns a copy of ctx that carries entry.
func WithEntry(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// Lookup returns the entry stored by WithEntry.
func Lookup(ctx context.Context) (*logrus.Entry, bool) {
	if ctx == nil {
		return nil, false
	}
	entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry)
	return entry, ok && entry != nil
}

// FromContext returns the entry stored by WithEntry, or one built on the
// standard logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := Lookup(ctx); ok {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
