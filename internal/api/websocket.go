package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/napt-router/internal/events"
)

const (
	// defaultBacklog is how many buffered events a new client receives.
	defaultBacklog = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// parsePrefixes reads ?prefix=router.,station. into a name prefix list.
func parsePrefixes(r *http.Request) []string {
	var prefixes []string
	for _, p := range strings.Split(r.URL.Query().Get("prefix"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

// wsEventsHandler streams events. ?backlog=N sets how many buffered events
// are replayed first and ?prefix=router.,station. narrows the stream.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	backlog := defaultBacklog
	if s := r.URL.Query().Get("backlog"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			backlog = n
		}
	}
	prefixes := parsePrefixes(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	sub := events.Subscribe(prefixes...)
	defer func() {
		events.Unsubscribe(sub)
		conn.Close()
	}()

	send := func(e events.Event) bool {
		data, err := json.Marshal(e)
		if err != nil {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("ws write event failed: %v", err)
			return false
		}
		return true
	}

	if backlog > 0 {
		for _, e := range events.RecentEvents(backlog, prefixes...) {
			if !send(e) {
				return
			}
		}
	}

	// The reader only services pongs and notices the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if !send(e) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
