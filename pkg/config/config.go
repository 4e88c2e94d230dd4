// Package config loads the publisher configuration from an optional TOML
// file layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"redalf.de/shapes/pkg/locator"
)

// MaxDomainID keeps every derived port below 65535 with the default gains.
const MaxDomainID = 232

// Duration is a time.Duration that decodes from TOML strings such as "1s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Publisher Publisher `toml:"publisher"`
	Bus       Bus       `toml:"bus"`
	Log       Log       `toml:"log"`
	Admin     Admin     `toml:"admin"`
	Metrics   Metrics   `toml:"metrics"`
	Demo      Demo      `toml:"demo"`
}

type Publisher struct {
	Domain      uint32   `toml:"domain"`
	SampleCount uint64   `toml:"sample_count"`
	Topic       string   `toml:"topic"`
	Color       string   `toml:"color"`
	ShapeSize   int      `toml:"shape_size"`
	Interval    Duration `toml:"interval"`
}

type Bus struct {
	PortBase           int      `toml:"port_base"`
	DomainGain         int      `toml:"domain_gain"`
	ParticipantGain    int      `toml:"participant_gain"`
	MaxParticipants    int      `toml:"max_participants"`
	MulticastGroups    string   `toml:"multicast_groups"`
	UnicastAddress     string   `toml:"unicast_address"`
	InitialPeers       []string `toml:"initial_peers"`
	MaxWriters         int      `toml:"max_writers"`
	MaxReadersPerTopic int      `toml:"max_readers_per_topic"`
	WriterQueueSize    int      `toml:"writer_queue_size"`
	ReaderQueueSize    int      `toml:"reader_queue_size"`
	GracePeriod        Duration `toml:"grace_period"`
}

type Log struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type Admin struct {
	Port int `toml:"port"`
}

type Metrics struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

type Demo struct {
	Subscribers int `toml:"subscribers"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Publisher: Publisher{
			Domain:    0,
			Topic:     "Square",
			Color:     "ORANGE",
			ShapeSize: 30,
			Interval:  Duration{time.Second},
		},
		Bus: Bus{
			PortBase:           7400,
			DomainGain:         250,
			ParticipantGain:    2,
			MaxParticipants:    60,
			MulticastGroups:    "239.255.0.1",
			UnicastAddress:     "127.0.0.1",
			InitialPeers:       []string{"builtin.udpv4://239.255.0.1", "builtin.udpv4://127.0.0.1"},
			MaxWriters:         16,
			MaxReadersPerTopic: 16,
			WriterQueueSize:    64,
			ReaderQueueSize:    16,
			GracePeriod:        Duration{5 * time.Second},
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Demo: Demo{Subscribers: 1},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return cfg, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late inside the bus.
func (c Config) Validate() error {
	var errs []error
	p, b := c.Publisher, c.Bus
	if p.Domain > MaxDomainID {
		errs = append(errs, fmt.Errorf("domain %d out of range [0,%d]", p.Domain, MaxDomainID))
	}
	if strings.TrimSpace(p.Topic) == "" {
		errs = append(errs, errors.New("topic must not be empty"))
	}
	if p.Interval.Duration <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if p.ShapeSize <= 0 {
		errs = append(errs, errors.New("shape_size must be positive"))
	}
	if b.PortBase <= 0 || b.PortBase%2 != 0 {
		errs = append(errs, fmt.Errorf("port_base %d must be positive and even", b.PortBase))
	}
	if b.MaxParticipants <= 0 {
		errs = append(errs, errors.New("max_participants must be positive"))
	}
	if b.ParticipantGain < 2 {
		errs = append(errs, errors.New("participant_gain must be at least 2"))
	}
	if b.DomainGain < b.ParticipantGain*b.MaxParticipants+10 {
		errs = append(errs, fmt.Errorf("domain_gain %d too small for %d participants", b.DomainGain, b.MaxParticipants))
	}
	if top := b.PortBase + b.DomainGain*int(p.Domain) + 10 + b.ParticipantGain*b.MaxParticipants; top > 65535 {
		errs = append(errs, fmt.Errorf("port range for domain %d ends at %d, beyond 65535", p.Domain, top))
	}
	for _, peer := range b.InitialPeers {
		if _, err := locator.ParseUDPv4(peer); err != nil {
			errs = append(errs, fmt.Errorf("initial_peers: %w", err))
		}
	}
	if strings.TrimSpace(b.MulticastGroups) == "" {
		errs = append(errs, errors.New("multicast_groups must not be empty"))
	}
	if b.WriterQueueSize <= 0 || b.ReaderQueueSize <= 0 {
		errs = append(errs, errors.New("queue sizes must be positive"))
	}
	if b.MaxWriters <= 0 || b.MaxReadersPerTopic <= 0 {
		errs = append(errs, errors.New("endpoint limits must be positive"))
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		errs = append(errs, fmt.Errorf("admin port %d out of range", c.Admin.Port))
	}
	if c.Demo.Subscribers < 0 {
		errs = append(errs, errors.New("demo subscribers must not be negative"))
	}
	return errors.Join(errs...)
}
