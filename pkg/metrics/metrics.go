package metrics

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.opentelemetry.io/otel"
	otlpmetricgrpc "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	plog "redalf.de/shapes/pkg/log"
)

// otlpInstruments is swapped in atomically once the exporter is up.
type otlpInstruments struct {
	samplesWritten     metric.Int64Counter
	publishErrors      metric.Int64Counter
	matchEvents        metric.Int64Counter
	matchedSubscribers metric.Int64Gauge
	decodeErrors       metric.Int64Counter
	activeWriters      metric.Int64UpDownCounter
	activeReaders      metric.Int64UpDownCounter
	samplesDropped     metric.Int64Counter
	participantPorts   metric.Int64UpDownCounter
	sessionState       metric.Int64Gauge
}

var (
	otlpMu sync.RWMutex
	otlp   *otlpInstruments

	// Prometheus equivalents
	promSamplesWritten     prometheus.Counter
	promPublishErrors      prometheus.Counter
	promMatchEvents        *prometheus.CounterVec
	promMatchedSubscribers prometheus.Gauge
	promDecodeErrors       prometheus.Counter
	promActiveWriters      prometheus.Gauge
	promActiveReaders      prometheus.Gauge
	promSamplesDropped     prometheus.Counter
	promParticipantPorts   prometheus.Gauge
	promSessionState       prometheus.Gauge
)

func init() {
	promSamplesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shapes_samples_written_total",
		Help: "Total samples written by the publisher",
	})
	promPublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shapes_publish_errors_total",
		Help: "Total failed write attempts, including retried ones",
	})
	promMatchEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shapes_match_events_total",
		Help: "Publication match notifications by kind",
	}, []string{"kind"})
	promMatchedSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shapes_matched_subscribers",
		Help: "Subscribers currently matched with the writer",
	})
	promDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shapes_locator_decode_errors_total",
		Help: "Peer locators that could not be decoded",
	})
	promActiveWriters = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shapes_active_writers",
		Help: "Writers registered on the local bus",
	})
	promActiveReaders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shapes_active_readers",
		Help: "Readers registered on the local bus",
	})
	promSamplesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shapes_samples_dropped_total",
		Help: "Samples dropped by full topic or reader queues",
	})
	promParticipantPorts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shapes_participant_ports_reserved",
		Help: "Participant port pairs currently reserved",
	})
	promSessionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shapes_session_state",
		Help: "Publisher session state (0 created, 1 connected, 2 publishing, 3 draining, 4 closed)",
	})

	prometheus.MustRegister(
		promSamplesWritten,
		promPublishErrors,
		promMatchEvents,
		promMatchedSubscribers,
		promDecodeErrors,
		promActiveWriters,
		promActiveReaders,
		promSamplesDropped,
		promParticipantPorts,
		promSessionState,
	)
}

// InitOTLP initializes an OTLP exporter to the provided endpoint (host:port)
// and configures a MeterProvider that exports periodically. If endpoint is
// empty, InitOTLP is a no-op and returns nil.
func InitOTLP(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return nil
	}

	tryInit := func() error {
		// Resolve first so a dead collector hostname does not spin up an
		// exporter that logs dial errors forever.
		host, _, err := net.SplitHostPort(endpoint)
		if err != nil {
			host = endpoint
		}
		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		addrs, err := net.DefaultResolver.LookupHost(rctx, host)
		if err != nil {
			return fmt.Errorf("dns lookup failed for %s: %w", host, err)
		}
		plog.Debug("otel: resolved %s -> %v", host, addrs)

		exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return err
		}
		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		inst, err := newInstruments(provider.Meter("shapes"))
		if err != nil {
			_ = provider.Shutdown(context.Background())
			return err
		}
		otel.SetMeterProvider(provider)
		otlpMu.Lock()
		otlp = inst
		otlpMu.Unlock()
		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = provider.Shutdown(sctx)
		}()
		return nil
	}

	// Try once synchronously. If it fails, log a warning and retry
	// in the background so publishing can start without a collector.
	if err := tryInit(); err == nil {
		plog.Info("otel: metrics exporter initialized")
		return nil
	} else {
		plog.Warn("otel: initial metrics exporter init failed: %v; starting background retry", err)
	}

	go func() {
		backoff := 5 * time.Second
		for {
			select {
			case <-ctx.Done():
				plog.Info("otel: stopping init retries due to context cancellation")
				return
			case <-time.After(backoff):
			}
			if err := tryInit(); err == nil {
				plog.Info("otel: metrics exporter initialized (background)")
				return
			} else {
				plog.Warn("otel: metrics exporter init retry failed: %v; retrying in %s", err, backoff)
			}
			if backoff < 60*time.Second {
				backoff *= 2
			}
		}
	}()
	return nil
}

func newInstruments(meter metric.Meter) (*otlpInstruments, error) {
	var (
		in otlpInstruments
		e  error
	)
	if in.samplesWritten, e = meter.Int64Counter("shapes_samples_written_total"); e != nil {
		return nil, e
	}
	if in.publishErrors, e = meter.Int64Counter("shapes_publish_errors_total"); e != nil {
		return nil, e
	}
	if in.matchEvents, e = meter.Int64Counter("shapes_match_events_total"); e != nil {
		return nil, e
	}
	if in.matchedSubscribers, e = meter.Int64Gauge("shapes_matched_subscribers"); e != nil {
		return nil, e
	}
	if in.decodeErrors, e = meter.Int64Counter("shapes_locator_decode_errors_total"); e != nil {
		return nil, e
	}
	if in.activeWriters, e = meter.Int64UpDownCounter("shapes_active_writers"); e != nil {
		return nil, e
	}
	if in.activeReaders, e = meter.Int64UpDownCounter("shapes_active_readers"); e != nil {
		return nil, e
	}
	if in.samplesDropped, e = meter.Int64Counter("shapes_samples_dropped_total"); e != nil {
		return nil, e
	}
	if in.participantPorts, e = meter.Int64UpDownCounter("shapes_participant_ports_reserved"); e != nil {
		return nil, e
	}
	if in.sessionState, e = meter.Int64Gauge("shapes_session_state"); e != nil {
		return nil, e
	}
	return &in, nil
}

func instruments() *otlpInstruments {
	otlpMu.RLock()
	defer otlpMu.RUnlock()
	return otlp
}

func IncSamplesWritten() {
	if in := instruments(); in != nil {
		in.samplesWritten.Add(context.Background(), 1)
	}
	promSamplesWritten.Inc()
}

func IncPublishErrors() {
	if in := instruments(); in != nil {
		in.publishErrors.Add(context.Background(), 1)
	}
	promPublishErrors.Inc()
}

// IncMatchEvents counts a match (matched=true) or unmatch notification.
func IncMatchEvents(matched bool) {
	kind := "unmatched"
	if matched {
		kind = "matched"
	}
	if in := instruments(); in != nil {
		in.matchEvents.Add(context.Background(), 1)
	}
	promMatchEvents.WithLabelValues(kind).Inc()
}

func SetMatchedSubscribers(n int) {
	if in := instruments(); in != nil {
		in.matchedSubscribers.Record(context.Background(), int64(n))
	}
	promMatchedSubscribers.Set(float64(n))
}

func IncLocatorDecodeErrors() {
	if in := instruments(); in != nil {
		in.decodeErrors.Add(context.Background(), 1)
	}
	promDecodeErrors.Inc()
}

// AddActiveWriters adjusts the active writers gauge by delta (positive or negative).
func AddActiveWriters(delta int64) {
	if in := instruments(); in != nil {
		in.activeWriters.Add(context.Background(), delta)
	}
	promActiveWriters.Add(float64(delta))
}

// AddActiveReaders adjusts the active readers gauge by delta (positive or negative).
func AddActiveReaders(delta int64) {
	if in := instruments(); in != nil {
		in.activeReaders.Add(context.Background(), delta)
	}
	promActiveReaders.Add(float64(delta))
}

func IncSamplesDropped() {
	if in := instruments(); in != nil {
		in.samplesDropped.Add(context.Background(), 1)
	}
	promSamplesDropped.Inc()
}

func IncParticipantPorts() {
	if in := instruments(); in != nil {
		in.participantPorts.Add(context.Background(), 1)
	}
	promParticipantPorts.Inc()
}

func DecParticipantPorts() {
	if in := instruments(); in != nil {
		in.participantPorts.Add(context.Background(), -1)
	}
	promParticipantPorts.Dec()
}

func SetSessionState(state int) {
	if in := instruments(); in != nil {
		in.sessionState.Record(context.Background(), int64(state))
	}
	promSessionState.Set(float64(state))
}
