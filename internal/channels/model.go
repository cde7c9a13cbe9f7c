package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Kind enumerates the supported push channel families.
type Kind string

const (
	// KindNativeDeviceToken is a platform token (FCM/APNs) delivered through native messaging.
	KindNativeDeviceToken Kind = "native_device_token"
	// KindCrossPlatformPushToken is a third-party relay token such as an Expo push token.
	KindCrossPlatformPushToken Kind = "cross_platform_push_token"
)

const (
	maxTokenLength      = 4096
	maxIdentifierLength = 190
)

var (
	// ErrInvalidToken indicates an empty or malformed push token.
	ErrInvalidToken = errors.New("channels: invalid token")
	// ErrInvalidChannelKind indicates an unknown channel kind.
	ErrInvalidChannelKind = errors.New("channels: invalid channel kind")
	// ErrInvalidUserID indicates an empty or oversized user identifier.
	ErrInvalidUserID = errors.New("channels: invalid user id")
	// ErrNoChannel indicates that the user has no registered push channel.
	ErrNoChannel = errors.New("channels: no channel registered")
)

// ParseKind normalizes a client-supplied kind, accepting common aliases.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(KindNativeDeviceToken), "native", "fcm", "apns":
		return KindNativeDeviceToken, nil
	case string(KindCrossPlatformPushToken), "cross_platform", "expo":
		return KindCrossPlatformPushToken, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannelKind, value)
	}
}

// String returns the canonical kind name.
func (k Kind) String() string {
	return string(k)
}

// Registration is the single active push channel of a user.
type Registration struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Kind         Kind      `gorm:"column:channel_kind;size:32;not null"`
	Token        string    `gorm:"column:token;type:text;not null"`
	RegisteredAt time.Time `gorm:"column:registered_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Registration) TableName() string {
	return "channel_registrations"
}

// Registry keeps exactly one active registration per user.
type Registry interface {
	RegisterToken(ctx context.Context, userID string, kind Kind, token string) (Registration, error)
	ResolveChannel(ctx context.Context, userID string) (Registration, error)
}

// lookupKey matches the key RegisterToken stores under.
func lookupKey(userID string) string {
	return strings.TrimSpace(userID)
}

func validateRegistration(userID string, kind Kind, token string) (string, string, error) {
	id := strings.TrimSpace(userID)
	if id == "" || len(id) > maxIdentifierLength {
		return "", "", ErrInvalidUserID
	}
	if kind != KindNativeDeviceToken && kind != KindCrossPlatformPushToken {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidChannelKind, kind)
	}
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	if len(trimmed) > maxTokenLength {
		return "", "", fmt.Errorf("%w: exceeds %d bytes", ErrInvalidToken, maxTokenLength)
	}
	for _, r := range trimmed {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", "", fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidToken)
		}
	}
	return id, trimmed, nil
}
