package provisioning

import (
	"errors"
	"sync"
)

// ErrNotListening is returned by Deliver while no session is waiting.
var ErrNotListening = errors.New("provisioning mechanism not listening")

// Inbox is a Mechanism fed by the local API: credentials posted by the
// companion app are replayed as a complete exchange on the run loop.
type Inbox struct {
	mu       sync.Mutex
	post     func(func()) bool
	onStatus func(Status, *Credentials)
	running  bool
	gen      uint64
}

// NewInbox creates an Inbox that delivers reports through post.
func NewInbox(post func(func()) bool) *Inbox {
	return &Inbox{post: post}
}

// Start implements Mechanism.
func (m *Inbox) Start(onStatus func(Status, *Credentials)) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.onStatus = onStatus
	m.running = true
	m.mu.Unlock()

	m.post(func() { m.deliver(gen, StatusWait, nil) })
	m.post(func() { m.deliver(gen, StatusFindChannel, nil) })
	return nil
}

// Stop implements Mechanism.
func (m *Inbox) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.gen++
}

// Listening reports whether a session is waiting for credentials.
func (m *Inbox) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Deliver hands credentials to the waiting session.
func (m *Inbox) Deliver(c Credentials) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotListening
	}
	gen := m.gen
	m.mu.Unlock()

	creds := c
	for _, fn := range []func(){
		func() { m.deliver(gen, StatusGettingCredentials, nil) },
		func() { m.deliver(gen, StatusLink, &creds) },
		func() { m.deliver(gen, StatusLinkOver, nil) },
	} {
		if !m.post(fn) {
			return ErrNotListening
		}
	}
	return nil
}

func (m *Inbox) deliver(gen uint64, st Status, c *Credentials) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	cb := m.onStatus
	m.mu.Unlock()
	cb(st, c)
}
