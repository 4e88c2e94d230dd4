// Package bus defines the pub/sub bus the publisher talks to. The bus owns
// discovery, matching and transport; callers only connect, bind topics,
// create endpoints and receive match notifications.
package bus

import (
	"context"
	"errors"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"redalf.de/shapes/pkg/locator"
)

var (
	ErrConnection = errors.New("bus: cannot join domain")
	ErrTopic      = errors.New("bus: topic binding failed")
	ErrPublish    = errors.New("bus: publish failed")
	ErrNotFound   = errors.New("bus: peer not found")
	ErrClosed     = errors.New("bus: session closed")
)

// PeerHandle identifies a remote endpoint for the lifetime of its match.
type PeerHandle string

// Bus joins domains.
type Bus interface {
	Connect(ctx context.Context, domainID uint32) (Session, error)
}

// PeerResolver looks up metadata of a matched peer.
type PeerResolver interface {
	LookupPeer(h PeerHandle) (PeerInfo, error)
}

// Session is one participant in a domain. Closing it closes every endpoint
// created from it.
type Session interface {
	PeerResolver
	BindTopic(name string, td TypeDescriptor) (Topic, error)
	// CreateWriter creates an outgoing endpoint. l may be nil; when set it is
	// invoked from a bus goroutine for every match and unmatch.
	CreateWriter(t Topic, l MatchListener) (Writer, error)
	CreateReader(t Topic) (Reader, error)
	Info() ParticipantInfo
	Close() error
}

type Writer interface {
	Write(ctx context.Context, sample any) error
	Handle() PeerHandle
	Matched() []PeerHandle
	Close() error
}

type Reader interface {
	Samples() <-chan Delivery
	Handle() PeerHandle
	Close() error
}

// Delivery is a sample as received by a reader.
type Delivery struct {
	Writer PeerHandle
	Seq    uint64
	Data   any
}

// MatchEvent reports a remote reader matching or leaving a writer.
type MatchEvent struct {
	Peer         PeerHandle
	Matched      bool
	CurrentCount int
	TotalCount   int
}

type MatchListener interface {
	OnMatch(ev MatchEvent)
}

// MatchListenerFunc adapts a function to MatchListener.
type MatchListenerFunc func(MatchEvent)

func (f MatchListenerFunc) OnMatch(ev MatchEvent) { f(ev) }

// PeerInfo is the builtin-topic metadata of a matched reader.
type PeerInfo struct {
	Handle            PeerHandle
	Participant       PeerHandle
	TopicName         string
	TypeName          string
	UnicastLocators   []locator.Locator
	MulticastLocators []locator.Locator
}

// ParticipantInfo is the discovery configuration of the local participant.
type ParticipantInfo struct {
	Handle                    PeerHandle
	DomainID                  uint32
	InitialPeers              []string
	MulticastReceiveAddresses []string
	DefaultUnicastLocators    []locator.Locator
}

// Topic is a bound topic/type pair.
type Topic struct {
	Name string
	Type TypeDescriptor
}

// FieldKind is the wire type of a struct member.
type FieldKind int

const (
	KindInt32 FieldKind = iota + 1
	KindFloat32
	KindString
	KindEnum
)

type Field struct {
	Name string
	Kind FieldKind
	Key  bool
}

// TypeDescriptor describes the sample type carried on a topic.
type TypeDescriptor struct {
	Name   string
	Fields []Field
}

// Signature hashes the type name and its ordered members. Endpoints on the
// same topic must agree on it.
func (td TypeDescriptor) Signature() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(td.Name)
	for _, f := range td.Fields {
		_, _ = d.WriteString("|" + f.Name + ":" + strconv.Itoa(int(f.Kind)))
		if f.Key {
			_, _ = d.WriteString("@key")
		}
	}
	return d.Sum64()
}
