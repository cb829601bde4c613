package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"

	"github.com/haltcondition/nlddns"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "devel"

var flags = struct {
	Conf    string
	DryRun  bool
	Version bool
}{}

func init() {
	flag.StringVar(&flags.Conf, "conf", "", "path to the config file (default $NLDDNS_CONFIG, then "+defaultConfigPath+")")
	flag.BoolVar(&flags.DryRun, "dry-run", false, "log record changes instead of applying them")
	flag.BoolVar(&flags.Version, "version", false, "print the version and exit")
}

func main() {
	flag.Parse()
	if flags.Version {
		fmt.Println("nlddnsd", version)
		return
	}
	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig(configPath(flags.Conf))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := nlddns.New(cfg.Host,
		cfg.providerOption(),
		nlddns.UsingInterface(cfg.Interface),
		nlddns.WithTTL(cfg.TTL),
		nlddns.WithLogger(logger),
		nlddns.WithDryRun(cfg.DryRun || flags.DryRun),
		nlddns.WithReadyFunc(notifyReady(logger)),
	)
	if err != nil {
		return fmt.Errorf("error creating nlddns.Client: %w", err)
	}

	logger.Infof("nlddnsd %s: watching %s for %s.%s", version, cfg.Interface, cfg.Host, cfg.Domain)
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

// notifyReady tells systemd the service is up once the first
// reconciliation pass has finished. The call is a no-op outside of a
// systemd unit with Type=notify.
func notifyReady(logger logrus.FieldLogger) func() {
	return func() {
		sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
		if err != nil {
			logger.Warnf("sd_notify failed: %v", err)
			return
		}
		if sent {
			logger.Debug("notified systemd that we are ready")
		}
	}
}
