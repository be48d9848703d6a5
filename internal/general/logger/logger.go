package logger

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger emits one JSON line per event to stdout. Every entry carries the
// service name, an action tag, a human message and optional details; the
// request and ride correlation ids are pulled from the context when present.
type Logger struct {
	service string
	log     *logrus.Logger
}

// New creates a structured logger for the given service.
func New(service string) *Logger {
	if strings.TrimSpace(service) == "" {
		service = "unknown-service"
	}

	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.DebugLevel)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})

	return &Logger{service: service, log: log}
}

// Debug writes a DEBUG line with optional details.
func (l *Logger) Debug(ctx context.Context, action, msg string, details any) {
	l.entry(ctx, action, details).Debug(strings.TrimSpace(msg))
}

// Info writes an INFO line with optional details.
func (l *Logger) Info(ctx context.Context, action, msg string, details any) {
	l.entry(ctx, action, details).Info(strings.TrimSpace(msg))
}

// Error writes an ERROR line with the error attached.
func (l *Logger) Error(ctx context.Context, action, msg string, err error, details any) {
	entry := l.entry(ctx, action, details)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(strings.TrimSpace(msg))
}

func (l *Logger) entry(ctx context.Context, action string, details any) *logrus.Entry {
	fields := logrus.Fields{
		"service": l.service,
		"action":  safeAction(action),
	}
	if id := requestID(ctx); id != "" {
		fields["request_id"] = id
	}
	if id := rideID(ctx); id != "" {
		fields["ride_id"] = id
	}
	if details != nil {
		fields["details"] = details
	}
	return l.log.WithFields(fields)
}

// ------------ Context helpers -------------

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "dispatch_request_id"
	ctxKeyRideID    ctxKey = "dispatch_ride_id"
)

// WithRequestID returns a new context carrying request_id.
func (l *Logger) WithRequestID(ctx context.Context, reqID string) context.Context {
	if strings.TrimSpace(reqID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, reqID)
}

// WithRideID returns a new context carrying ride_id.
func (l *Logger) WithRideID(ctx context.Context, rideID string) context.Context {
	if strings.TrimSpace(rideID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRideID, rideID)
}

// requestID extracts request_id from ctx (if any).
func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// rideID extracts ride_id from ctx (if any).
func rideID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKeyRideID).(string); ok {
		return v
	}
	return ""
}

func safeAction(a string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return "unspecified"
	}
	return a
}
