package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"redalf.de/shapes/pkg/admin"
	"redalf.de/shapes/pkg/config"
	"redalf.de/shapes/pkg/localbus"
	plog "redalf.de/shapes/pkg/log"
	"redalf.de/shapes/pkg/metrics"
	"redalf.de/shapes/pkg/motion"
	"redalf.de/shapes/pkg/publisher"
	"redalf.de/shapes/pkg/shape"
	"redalf.de/shapes/pkg/topic"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run returns the process exit code. Diagnostics go to stderr.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("shapes-publisher", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath   = fs.String("config", "", "TOML configuration file")
		domain       = fs.Uint("domain", 0, "Domain ID")
		sampleCount  = fs.Uint64("sample-count", 0, "Number of samples to write, 0 for unbounded")
		verbosity    = fs.String("verbosity", "", "silent, error, warning, status_local, status_remote or status_all")
		topicName    = fs.String("topic", "Square", "Topic name")
		interval     = fs.Duration("interval", time.Second, "Time between samples")
		subscribers  = fs.Int("subscribers", 1, "In-process demo subscribers")
		adminPort    = fs.Int("admin-port", 0, "Admin HTTP port, 0 disables")
		otlpEndpoint = fs.String("otlp-endpoint", "", "OTLP gRPC collector host:port")
		logFile      = fs.String("log-file", "", "Also log to this rotating file")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	// explicitly set flags win over the file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "domain":
			cfg.Publisher.Domain = uint32(*domain)
		case "sample-count":
			cfg.Publisher.SampleCount = *sampleCount
		case "verbosity":
			cfg.Log.Level = *verbosity
		case "topic":
			cfg.Publisher.Topic = *topicName
		case "interval":
			cfg.Publisher.Interval = config.Duration{Duration: *interval}
		case "subscribers":
			cfg.Demo.Subscribers = *subscribers
		case "admin-port":
			cfg.Admin.Port = *adminPort
		case "otlp-endpoint":
			cfg.Metrics.OTLPEndpoint = *otlpEndpoint
		case "log-file":
			cfg.Log.File = *logFile
		}
	})
	if *domain > config.MaxDomainID {
		fmt.Fprintf(stderr, "domain %d out of range [0,%d]\n", *domain, config.MaxDomainID)
		return exitConfig
	}

	level, err := plog.ParseVerbosity(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration:\n%v\n", err)
		return exitConfig
	}
	rot := plog.Rotation{MaxSizeMB: cfg.Log.MaxSizeMB, MaxBackups: cfg.Log.MaxBackups}
	if err := plog.ConfigureFile(stderr, cfg.Log.File, level, rot); err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	defer plog.Close()

	if err := validateParticipantPorts(cfg.Bus, cfg.Publisher.Domain, cfg.Demo.Subscribers+1); err != nil {
		plog.Critical("participant ports: %v", err)
		return exitFatal
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := metrics.InitOTLP(ctx, cfg.Metrics.OTLPEndpoint); err != nil {
		plog.Warn("otel: %v", err)
	}

	b, err := localbus.New(busConfig(cfg))
	if err != nil {
		plog.Critical("bus: %v", err)
		return exitConfig
	}

	subs := startSubscribers(ctx, b, cfg.Publisher, cfg.Demo.Subscribers)
	defer subs.Close()

	pub := publisher.New(b, publisherConfig(cfg))

	var adminSrv *http.Server
	if cfg.Admin.Port > 0 {
		adminSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Admin.Port), Handler: admin.NewRouter(pub, b)}
		go func() {
			plog.Info("admin: listening on %s", adminSrv.Addr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				plog.Warn("admin server error: %v", err)
			}
		}()
	}

	runErr := pub.Run(ctx)
	if ctx.Err() != nil {
		plog.Info("shutdown requested")
	}

	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		adminSrv.Shutdown(shutdownCtx)
	}

	if runErr != nil {
		var pe *publisher.PhaseError
		if errors.As(runErr, &pe) {
			plog.Critical("publisher failed in %s phase: %v", pe.Phase, pe.Err)
		} else {
			plog.Critical("publisher failed: %v", runErr)
		}
		return exitFatal
	}
	return exitOK
}

func busConfig(cfg config.Config) localbus.Config {
	b := cfg.Bus
	return localbus.Config{
		Topic: topic.Config{
			MaxWriters:         b.MaxWriters,
			MaxReadersPerTopic: b.MaxReadersPerTopic,
			WriterQueueSize:    b.WriterQueueSize,
			ReaderQueueSize:    b.ReaderQueueSize,
			GracePeriod:        b.GracePeriod.Duration,
		},
		PortBase:        b.PortBase,
		DomainGain:      b.DomainGain,
		ParticipantGain: b.ParticipantGain,
		MaxParticipants: b.MaxParticipants,
		MulticastGroups: b.MulticastGroups,
		UnicastAddress:  b.UnicastAddress,
		InitialPeers:    b.InitialPeers,
	}
}

func publisherConfig(cfg config.Config) publisher.Config {
	p := cfg.Publisher
	bounds := motion.DefaultBounds
	bounds.ShapeSize = p.ShapeSize
	return publisher.Config{
		DomainID:    p.Domain,
		SampleCount: p.SampleCount,
		TopicName:   p.Topic,
		Interval:    p.Interval.Duration,
		Color:       p.Color,
		Bounds:      bounds,
		Wave:        motion.DefaultWave,
		Fill:        shape.SolidFill,
	}
}
