package provisioning

import (
	"sync"
	"time"
)

// Step is one report of a Scripted run, sent After the previous step.
type Step struct {
	After       time.Duration
	Status      Status
	Credentials *Credentials
}

// SuccessScript is a complete exchange handing over ssid and password.
func SuccessScript(ssid, password string) []Step {
	return []Step{
		{After: 100 * time.Millisecond, Status: StatusWait},
		{After: 500 * time.Millisecond, Status: StatusFindChannel},
		{After: 2 * time.Second, Status: StatusGettingCredentials},
		{After: time.Second, Status: StatusLink, Credentials: &Credentials{SSID: ssid, Password: password}},
		{After: 3 * time.Second, Status: StatusLinkOver},
	}
}

// SilentScript reports the scan and then never hears from the companion app.
func SilentScript() []Step {
	return []Step{
		{After: 100 * time.Millisecond, Status: StatusWait},
		{After: 500 * time.Millisecond, Status: StatusFindChannel},
	}
}

// Scripted is a Mechanism that replays a fixed script. With a post function
// the script plays on wall-clock timers through post; without one, reports
// are injected with Report.
type Scripted struct {
	mu       sync.Mutex
	post     func(func()) bool
	script   []Step
	onStatus func(Status, *Credentials)
	running  bool
	gen      uint64
	timers   []*time.Timer

	startErr error
	starts   int
	stops    int
}

// NewScripted returns a mechanism driven by Report.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Play makes every subsequent Start replay script through post.
func (m *Scripted) Play(post func(func()) bool, script []Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.post = post
	m.script = script
}

// FailStart makes Start return err until cleared with nil.
func (m *Scripted) FailStart(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Start implements Mechanism.
func (m *Scripted) Start(onStatus func(Status, *Credentials)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	m.stopLocked()
	m.onStatus = onStatus
	m.running = true
	m.starts++

	if m.post == nil {
		return nil
	}
	gen := m.gen
	var at time.Duration
	for _, step := range m.script {
		step := step
		at += step.After
		m.timers = append(m.timers, time.AfterFunc(at, func() {
			m.post(func() { m.deliver(gen, step.Status, step.Credentials) })
		}))
	}
	return nil
}

// Stop implements Mechanism.
func (m *Scripted) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.stops++
	}
	m.stopLocked()
}

func (m *Scripted) stopLocked() {
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
	m.running = false
	m.gen++
}

func (m *Scripted) deliver(gen uint64, st Status, c *Credentials) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	cb := m.onStatus
	m.mu.Unlock()
	cb(st, c)
}

// Report delivers st immediately on the calling goroutine, which must be the
// run loop. It returns false when the mechanism is not running.
func (m *Scripted) Report(st Status, c *Credentials) bool {
	m.mu.Lock()
	gen := m.gen
	running := m.running
	m.mu.Unlock()
	if !running {
		return false
	}
	m.deliver(gen, st, c)
	return true
}

// Running reports whether the mechanism is started.
func (m *Scripted) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Starts returns how many times Start succeeded.
func (m *Scripted) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Stops returns how many times a running mechanism was stopped.
func (m *Scripted) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
