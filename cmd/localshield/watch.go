package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/localshield/internal/client"
	"github.com/MarcoPoloResearchLab/localshield/internal/config"
	"github.com/MarcoPoloResearchLab/localshield/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var errPartialLocation = errors.New("both --latitude and --longitude are required to report a location")

type watchOptions struct {
	latitude    float64
	longitude   float64
	pushToken   string
	channelKind string
}

func newWatchCommand() *cobra.Command {
	options := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a LocalShield server and raise local alerts for nearby emergencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			reportLocation := flags.Changed("latitude") || flags.Changed("longitude")
			if reportLocation && !(flags.Changed("latitude") && flags.Changed("longitude")) {
				return errPartialLocation
			}
			return runWatch(cmd.Context(), options, reportLocation)
		},
	}
	defaults := config.NewViper()
	flags := cmd.Flags()
	flags.String("base-url", defaults.GetString("client.base_url"), "LocalShield server URL")
	flags.String("access-token", "", "Bearer token of this device (overrides env)")
	flags.Duration("poll-interval", defaults.GetDuration("client.poll_interval"), "Pause between poll cycles")
	flags.String("watermark-policy", defaults.GetString("client.watermark_policy"), "Watermark policy (last_event, now)")
	flags.Float64Var(&options.latitude, "latitude", 0, "Report this latitude before polling")
	flags.Float64Var(&options.longitude, "longitude", 0, "Report this longitude before polling")
	flags.StringVar(&options.pushToken, "push-token", "", "Register this push token before polling")
	flags.StringVar(&options.channelKind, "channel-kind", "cross_platform_push_token", "Channel kind of --push-token")

	bindFlag(cmd, "client.base_url", "base-url")
	bindFlag(cmd, "client.access_token", "access-token")
	bindFlag(cmd, "client.poll_interval", "poll-interval")
	bindFlag(cmd, "client.watermark_policy", "watermark-policy")
	return cmd
}

func runWatch(ctx context.Context, options *watchOptions, reportLocation bool) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.ValidateClient(); err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	api, err := client.NewAPIClient(client.APIConfig{
		BaseURL:     appConfig.ClientBaseURL,
		AccessToken: appConfig.ClientAccessToken,
	})
	if err != nil {
		return err
	}

	if reportLocation {
		if err := api.UpdateLocation(ctx, options.latitude, options.longitude); err != nil {
			return fmt.Errorf("report location: %w", err)
		}
		logger.Info("location reported", zap.Float64("latitude", options.latitude), zap.Float64("longitude", options.longitude))
	}
	if options.pushToken != "" {
		if err := api.RegisterToken(ctx, options.channelKind, options.pushToken); err != nil {
			return fmt.Errorf("register push token: %w", err)
		}
		logger.Info("push token registered", zap.String("channel_kind", options.channelKind))
	}

	policy, err := client.ParseWatermarkPolicy(appConfig.ClientWatermarkPolicy)
	if err != nil {
		return err
	}
	poller, err := client.NewPoller(client.PollerConfig{
		Fetcher:  api,
		Notifier: client.NewLogNotifier(os.Stdout, logger),
		Interval: appConfig.ClientPollInterval,
		Policy:   policy,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := poller.Start(signalCtx); err != nil {
		return err
	}
	<-signalCtx.Done()
	poller.Stop()
	return nil
}
