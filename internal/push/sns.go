package push

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	defaultSNSRegion      = "us-east-1"
	endpointCacheLifetime = 24 * time.Hour
	endpointCacheCleanup  = time.Hour
)

var errMissingPlatformApplication = errors.New("push: sns platform application arn is required")

// SNSPublisher is the subset of the SNS client the native transport uses.
type SNSPublisher interface {
	CreatePlatformEndpoint(ctx context.Context, params *awssns.CreatePlatformEndpointInput, optFns ...func(*awssns.Options)) (*awssns.CreatePlatformEndpointOutput, error)
	Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
}

// SNSConfig configures the native device token transport.
type SNSConfig struct {
	Region                 string
	PlatformApplicationARN string
	Client                 SNSPublisher
	Logger                 *zap.Logger
}

// SNSChannel delivers alerts to native device tokens through SNS mobile push.
type SNSChannel struct {
	client         SNSPublisher
	applicationARN string
	endpoints      *gocache.Cache
	logger         *zap.Logger
}

// NewSNSChannel constructs the native transport. Without an injected client it loads
// the default AWS configuration for the region.
func NewSNSChannel(ctx context.Context, cfg SNSConfig) (*SNSChannel, error) {
	applicationARN := strings.TrimSpace(cfg.PlatformApplicationARN)
	if applicationARN == "" {
		return nil, errMissingPlatformApplication
	}
	client := cfg.Client
	if client == nil {
		region := strings.TrimSpace(cfg.Region)
		if region == "" {
			region = defaultSNSRegion
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, transportError("sns", err)
		}
		client = awssns.NewFromConfig(awsCfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNSChannel{
		client:         client,
		applicationARN: applicationARN,
		endpoints:      gocache.New(endpointCacheLifetime, endpointCacheCleanup),
		logger:         logger,
	}, nil
}

// Send resolves the platform endpoint for token and publishes the alert to it.
func (s *SNSChannel) Send(ctx context.Context, token string, message Message) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	endpointARN, err := s.endpointFor(ctx, token)
	if err != nil {
		return err
	}

	raw, err := snsMessage(message)
	if err != nil {
		return transportError("sns", err)
	}
	_, err = s.client.Publish(ctx, &awssns.PublishInput{
		MessageStructure: aws.String("json"),
		Message:          aws.String(raw),
		TargetArn:        aws.String(endpointARN),
	})
	if err != nil {
		// A disabled or deleted endpoint must be recreated on the next attempt.
		s.endpoints.Delete(tokenHash(token))
		return transportError("sns", err)
	}
	return nil
}

func (s *SNSChannel) endpointFor(ctx context.Context, token string) (string, error) {
	key := tokenHash(token)
	if cached, found := s.endpoints.Get(key); found {
		if arn, ok := cached.(string); ok && arn != "" {
			return arn, nil
		}
	}
	output, err := s.client.CreatePlatformEndpoint(ctx, &awssns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(s.applicationARN),
		Token:                  aws.String(token),
	})
	if err != nil {
		return "", transportError("sns", err)
	}
	arn := aws.ToString(output.EndpointArn)
	if arn == "" {
		return "", transportError("sns", errors.New("empty endpoint arn"))
	}
	s.endpoints.Set(key, arn, gocache.DefaultExpiration)
	s.logger.Debug("sns endpoint created", zap.String("endpoint_arn", arn))
	return arn, nil
}

func snsMessage(message Message) (string, error) {
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": message.Title(),
			"body":  message.Body(),
			"sound": "default",
		},
		"data": message.Data(),
	})
	if err != nil {
		return "", err
	}
	apns, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert": map[string]string{
				"title": message.Title(),
				"body":  message.Body(),
			},
			"sound": "default",
		},
		"data": message.Data(),
	})
	if err != nil {
		return "", err
	}
	// SNS expects each platform payload as an embedded JSON string.
	raw, err := json.Marshal(map[string]string{
		"default":      message.Body(),
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
