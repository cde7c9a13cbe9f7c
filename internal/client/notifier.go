package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Notifier raises a local alert for an event.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogNotifier is the alert sink of a command-line device.
type LogNotifier struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger
}

// NewLogNotifier writes alerts to out (stdout when nil) and to logger.
func NewLogNotifier(out io.Writer, logger *zap.Logger) *LogNotifier {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{out: out, logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Warn("emergency alert",
		zap.Int64("event_id", event.ID),
		zap.String("reporter_user_id", event.UserID),
		zap.Float64("latitude", event.Latitude),
		zap.Float64("longitude", event.Longitude),
		zap.Time("created_at", event.CreatedAt))

	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.out, "EMERGENCY ALERT #%d: user %s needs help at %.6f, %.6f\n",
		event.ID, event.UserID, event.Latitude, event.Longitude)
	return err
}
