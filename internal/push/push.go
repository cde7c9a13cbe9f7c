package push

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MarcoPoloResearchLab/localshield/internal/channels"
)

const (
	alertTitle = "Emergency Alert"
)

var (
	// ErrTransport indicates that a transport could not deliver a message.
	ErrTransport = errors.New("push: transport failure")
	// ErrInvalidToken indicates a token the transport refuses to address.
	ErrInvalidToken = errors.New("push: invalid token")
)

// Message is the emergency alert delivered to a single device.
type Message struct {
	EventID        int64
	ReporterUserID string
	Latitude       float64
	Longitude      float64
}

// Title returns the notification title shown to the recipient.
func (m Message) Title() string {
	return alertTitle
}

// Body returns the notification body shown to the recipient.
func (m Message) Body() string {
	return fmt.Sprintf("A nearby user is in an emergency. Location: %.6f, %.6f", m.Latitude, m.Longitude)
}

// Data returns the structured payload a client app can act on.
func (m Message) Data() map[string]string {
	return map[string]string{
		"type":             "emergency",
		"event_id":         strconv.FormatInt(m.EventID, 10),
		"reporter_user_id": m.ReporterUserID,
		"latitude":         strconv.FormatFloat(m.Latitude, 'f', -1, 64),
		"longitude":        strconv.FormatFloat(m.Longitude, 'f', -1, 64),
	}
}

// Channel delivers a message to one device token.
// Send must return once ctx is done; the dispatcher bounds each attempt only through ctx.
type Channel interface {
	Send(ctx context.Context, token string, message Message) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, token string, message Message) error

// Send calls f.
func (f ChannelFunc) Send(ctx context.Context, token string, message Message) error {
	return f(ctx, token, message)
}

// Transports maps a registration kind to the transport serving it.
// A kind absent from the map has no configured transport.
type Transports map[channels.Kind]Channel

// Lookup returns the transport for kind.
func (t Transports) Lookup(kind channels.Kind) (Channel, bool) {
	if t == nil {
		return nil, false
	}
	channel, ok := t[kind]
	if !ok || channel == nil {
		return nil, false
	}
	return channel, true
}

// Kinds lists the configured kinds.
func (t Transports) Kinds() []channels.Kind {
	kinds := make([]channels.Kind, 0, len(t))
	for kind, channel := range t {
		if channel != nil {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func transportError(transport string, err error) error {
	if errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, transport, err)
}
