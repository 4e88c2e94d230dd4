// Package admin serves the HTTP status API.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"redalf.de/shapes/pkg/bus"
	"redalf.de/shapes/pkg/publisher"
	"redalf.de/shapes/pkg/topic"
)

// PublisherStatus is implemented by *publisher.Session.
type PublisherStatus interface {
	Status() publisher.Status
}

// BusStatus is implemented by *localbus.Bus.
type BusStatus interface {
	Status() map[uint32]topic.StatusJSON
	Peer(h bus.PeerHandle) (bus.PeerInfo, bool)
}

// StatusJSON is the body of /status.
type StatusJSON struct {
	Publisher publisher.Status            `json:"publisher"`
	Domains   map[uint32]topic.StatusJSON `json:"domains"`
}

// PeerJSON is the body of /peers/{handle}.
type PeerJSON struct {
	Handle            string   `json:"handle"`
	Participant       string   `json:"participant"`
	Topic             string   `json:"topic"`
	Type              string   `json:"type"`
	UnicastLocators   []string `json:"unicast_locators"`
	MulticastLocators []string `json:"multicast_locators"`
}

// NewRouter wires /status, /peers/{handle} and /metrics.
func NewRouter(pub PublisherStatus, b BusStatus) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", StatusHandler(pub, b)).Methods(http.MethodGet)
	r.HandleFunc("/peers/{handle}", PeerHandler(b)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// StatusHandler returns an HTTP handler that serves publisher and bus status
func StatusHandler(pub PublisherStatus, b BusStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, StatusJSON{Publisher: pub.Status(), Domains: b.Status()})
	}
}

// PeerHandler returns the discovery metadata of one reader
func PeerHandler(b BusStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := bus.PeerHandle(mux.Vars(r)["handle"])
		info, ok := b.Peer(h)
		if !ok {
			http.Error(w, "peer not found", http.StatusNotFound)
			return
		}
		p := PeerJSON{
			Handle:            string(info.Handle),
			Participant:       string(info.Participant),
			Topic:             info.TopicName,
			Type:              info.TypeName,
			UnicastLocators:   []string{},
			MulticastLocators: []string{},
		}
		for _, l := range info.UnicastLocators {
			p.UnicastLocators = append(p.UnicastLocators, l.String())
		}
		for _, l := range info.MulticastLocators {
			p.MulticastLocators = append(p.MulticastLocators, l.String())
		}
		writeJSON(w, p)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
