package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redalf.de/shapes/pkg/config"
	"redalf.de/shapes/pkg/console"
	"redalf.de/shapes/pkg/localbus"
	plog "redalf.de/shapes/pkg/log"
	"redalf.de/shapes/pkg/publisher"
)

// syncBuffer is written from the writer's match goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testBusConfig(base int) config.Config {
	cfg := config.Default()
	cfg.Bus.PortBase = base
	cfg.Bus.MaxParticipants = 4
	cfg.Bus.DomainGain = 20
	cfg.Publisher.Interval = config.Duration{Duration: 5 * time.Millisecond}
	return cfg
}

func TestPublisherConfigFromFile(t *testing.T) {
	cfg := config.Default()
	cfg.Publisher.Domain = 3
	cfg.Publisher.SampleCount = 9
	cfg.Publisher.ShapeSize = 40
	pc := publisherConfig(cfg)
	assert.Equal(t, uint32(3), pc.DomainID)
	assert.Equal(t, uint64(9), pc.SampleCount)
	assert.Equal(t, 40, pc.Bounds.ShapeSize)
	assert.Equal(t, 15, pc.Bounds.Left)
	assert.Equal(t, "Square", pc.TopicName)
	assert.Equal(t, time.Second, pc.Interval)

	bc := busConfig(cfg)
	assert.Equal(t, 7400, bc.PortBase)
	assert.Equal(t, 5*time.Second, bc.Topic.GracePeriod)
	assert.Equal(t, cfg.Bus.InitialPeers, bc.InitialPeers)
}

func TestValidateParticipantPorts(t *testing.T) {
	cfg := testBusConfig(43000)
	require.NoError(t, validateParticipantPorts(cfg.Bus, 0, 2))

	// hold the only slot
	cfg.Bus.MaxParticipants = 1
	pc, err := net.ListenPacket("udp4", fmt.Sprintf("127.0.0.1:%d", 43010))
	require.NoError(t, err)
	defer pc.Close()
	assert.Error(t, validateParticipantPorts(cfg.Bus, 0, 1))

	cfg.Bus.PortBase = 43001
	assert.Error(t, validateParticipantPorts(cfg.Bus, 0, 1))
}

func TestPublisherWithDemoSubscribers(t *testing.T) {
	cfg := testBusConfig(43100)
	b, err := localbus.New(busConfig(cfg))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subs := startSubscribers(ctx, b, cfg.Publisher, 2)
	require.Len(t, subs.sessions, 2)

	out := &syncBuffer{}
	pub := publisher.New(b, publisherConfig(cfg), publisher.WithConsole(console.New(out)))
	runErr := make(chan error, 1)
	go func() { runErr <- pub.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "on_publication_matched") == 2 && pub.Written() >= 3
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-runErr)

	// the writer is closed, so nothing prints after Run returns
	text := out.String()
	require.NoError(t, subs.Close())
	assert.Equal(t, text, out.String())

	assert.Equal(t, 2, strings.Count(text, "on_publication_matched"))
	assert.Contains(t, text, "\t239.255.0.1:43101")
	assert.Contains(t, text, "Writing an ORANGE square sine pattern. Ctrl+c to exit")
	assert.Empty(t, b.Domains())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shapes.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunSilentStillReportsFatalError(t *testing.T) {
	defer plog.Configure(os.Stderr, "info")
	path := writeConfig(t, `
[bus]
port_base = 43200
domain_gain = 20
max_participants = 2
`)
	var stderr bytes.Buffer
	code := run([]string{"-config", path, "-verbosity", "silent", "-subscribers", "5"}, &stderr)
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, stderr.String(), "ERROR: participant ports: only")
	assert.Contains(t, stderr.String(), "of 6 participant port pairs free")
}

func TestRunRejectsBadArguments(t *testing.T) {
	defer plog.Configure(os.Stderr, "info")
	var stderr bytes.Buffer
	assert.Equal(t, exitConfig, run([]string{"-domain", "999"}, &stderr))
	assert.Contains(t, stderr.String(), "domain 999 out of range")

	stderr.Reset()
	assert.Equal(t, exitConfig, run([]string{"-no-such-flag"}, &stderr))
	assert.Contains(t, stderr.String(), "flag provided but not defined")

	stderr.Reset()
	assert.Equal(t, exitConfig, run([]string{"-verbosity", "loud"}, &stderr))
	assert.Contains(t, stderr.String(), "unknown log level")
}
