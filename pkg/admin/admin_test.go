package admin

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redalf.de/shapes/pkg/bus"
	"redalf.de/shapes/pkg/locator"
	"redalf.de/shapes/pkg/publisher"
	"redalf.de/shapes/pkg/topic"
)

type stubPublisher struct{ st publisher.Status }

func (s stubPublisher) Status() publisher.Status { return s.st }

type stubBus struct {
	domains map[uint32]topic.StatusJSON
	peers   map[bus.PeerHandle]bus.PeerInfo
}

func (s stubBus) Status() map[uint32]topic.StatusJSON { return s.domains }

func (s stubBus) Peer(h bus.PeerHandle) (bus.PeerInfo, bool) {
	p, ok := s.peers[h]
	return p, ok
}

func newTestRouter() http.Handler {
	pub := stubPublisher{st: publisher.Status{State: "publishing", Topic: "Square", Written: 12, Matched: 1}}
	b := stubBus{
		domains: map[uint32]topic.StatusJSON{
			0: {WriterCount: 1, Topics: []topic.TopicStatus{{Name: "Square", TypeName: "ShapeTypeExtended", Writers: []string{"w1"}, ReaderCount: 1}}},
		},
		peers: map[bus.PeerHandle]bus.PeerInfo{
			"r1": {
				Handle:            "r1",
				Participant:       "p1",
				TopicName:         "Square",
				TypeName:          "ShapeTypeExtended",
				UnicastLocators:   []locator.Locator{locator.NewUDPv4(net.IPv4(127, 0, 0, 1), 7413)},
				MulticastLocators: []locator.Locator{locator.NewUDPv4(net.IPv4(239, 255, 0, 1), 7401)},
			},
		},
	}
	return NewRouter(pub, b)
}

func TestStatusEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st StatusJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "publishing", st.Publisher.State)
	assert.Equal(t, uint64(12), st.Publisher.Written)
	require.Contains(t, st.Domains, uint32(0))
	assert.Equal(t, "Square", st.Domains[0].Topics[0].Name)
}

func TestPeerEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/peers/r1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var p PeerJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "p1", p.Participant)
	assert.Equal(t, []string{"udpv4://127.0.0.1:7413"}, p.UnicastLocators)
	assert.Equal(t, []string{"udpv4://239.255.0.1:7401"}, p.MulticastLocators)

	rec = httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/peers/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "shapes_samples_written_total"))
}

func TestStatusRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
