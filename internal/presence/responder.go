package presence

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/AaronLay10/napt-router/internal/events"
)

// Responder answers metadata requests on a UDP port.
type Responder struct {
	id      Identity
	purpose string
	port    int

	mu   sync.Mutex
	conn *net.UDPConn
	wg   sync.WaitGroup
}

// NewResponder creates a responder for port. Port 0 picks a free port.
func NewResponder(id Identity, purpose string, port int) *Responder {
	if purpose == "" {
		purpose = DefaultPurpose
	}
	return &Responder{id: id, purpose: purpose, port: port}
}

// Name implements Service.
func (r *Responder) Name() string { return "responder" }

// Enable opens the socket and starts serving. Enabling twice is a no-op.
func (r *Responder) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: r.port})
	if err != nil {
		return fmt.Errorf("listen udp %d: %w", r.port, err)
	}
	r.conn = conn

	r.wg.Add(1)
	go r.serve(conn)
	return nil
}

// Disable closes the socket and waits for the reader to exit.
func (r *Responder) Disable() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	r.wg.Wait()
}

// Addr returns the bound address, or nil when disabled.
func (r *Responder) Addr() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func (r *Responder) serve(conn *net.UDPConn) {
	defer r.wg.Done()

	buf := make([]byte, 512)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			events.Emit("warn", "presence.error", "responder read failed", map[string]interface{}{
				"service": r.Name(),
				"error":   err.Error(),
			})
			continue
		}
		if string(buf[:n]) != RequestString {
			continue
		}

		mac, ip := r.id.StationInfo()
		reply := MetadataResponse(r.purpose, mac, ip)
		if _, err := conn.WriteToUDP([]byte(reply), from); err != nil {
			events.Emit("warn", "presence.error", "metadata reply failed", map[string]interface{}{
				"service": r.Name(),
				"peer":    from.String(),
				"error":   err.Error(),
			})
			continue
		}
		events.Emit("info", "presence.request", "", map[string]interface{}{
			"peer": from.String(),
		})
	}
}
