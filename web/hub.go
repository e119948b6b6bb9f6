// Package web serves a JSON snapshot of the live cache-line table and
// transaction-state vector, and broadcasts GCM events to subscribed
// dashboard clients over a websocket, grounded on the teacher's
// web_server.go / web_websocket_hub.go pairing.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/example/tmsim/gcm"
)

var log = logrus.WithField("component", "web")

// Hub fans GCM events out to connected websocket clients as JSON frames.
// It also implements gcm.Reporter directly, so it can be registered on a
// gcm.Broker alongside gcm.LogReporter.
//
// Grounded on the teacher's wsHub: the same register/remove/broadcast
// channel triple drained by a single goroutine, so client bookkeeping
// never races with a broadcast in flight.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast chan []byte
}

// NewHub creates a Hub and starts its run loop in a background goroutine.
func NewHub() *Hub {
	h := &Hub{
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 64),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					log.WithError(err).Warn("dropping unresponsive dashboard client")
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

// ServeWS upgrades r into a websocket connection and registers it for
// broadcasts, then returns. A background goroutine reads (and discards)
// client frames until the connection closes, the way the teacher's handle
// does to detect disconnects promptly.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("websocket upgrade failed")
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// event is the wire frame every Reporter callback is marshaled into.
type event struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

func (h *Hub) publish(kind string, data any) {
	msg, err := json.Marshal(event{Kind: kind, Data: data})
	if err != nil {
		log.WithError(err).Error("failed to marshal event")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Warn("broadcast channel full, dropping event")
	}
}

func (h *Hub) RegisterLoad(e gcm.AccessEvent)       { h.publish("load", e) }
func (h *Hub) RegisterStore(e gcm.AccessEvent)      { h.publish("store", e) }
func (h *Hub) RegisterBegin(e gcm.BeginEvent)       { h.publish("begin", e) }
func (h *Hub) RegisterCommit(e gcm.CommitEvent)     { h.publish("commit", e) }
func (h *Hub) ReportNackLoad(e gcm.AccessEvent)     { h.publish("nackLoad", e) }
func (h *Hub) ReportNackStore(e gcm.AccessEvent)    { h.publish("nackStore", e) }
func (h *Hub) ReportNackCommit(e gcm.CommitEvent)   { h.publish("nackCommit", e) }
func (h *Hub) ReportNackCommitFN(e gcm.CommitEvent) { h.publish("nackCommitFN", e) }
func (h *Hub) ReportAbort(e gcm.AbortEvent)         { h.publish("abort", e) }

var _ gcm.Reporter = (*Hub)(nil)
