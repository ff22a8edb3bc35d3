package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/pactwatch/internal/events"
)

const (
	streamBuffer = 256
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and pushes every event as one JSON
// text message. ?types=a,b restricts the stream; ?agreement=<hex> follows a
// single agreement. The stream is one-way; client messages are discarded.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	want := make(map[events.Type]bool)
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			want[events.Type(strings.TrimSpace(t))] = true
		}
	}
	agreement := strings.ToLower(r.URL.Query().Get("agreement"))

	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	ch, cancel := a.bus.Subscribe(streamBuffer)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reading is required to process close frames from the peer.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if len(want) > 0 && !want[ev.Type] {
				continue
			}
			if agreement != "" && ev.Agreement != agreement {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
