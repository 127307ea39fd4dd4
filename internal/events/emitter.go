package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var buffer = NewRingBuffer(256)

// Store persists events. *postgres.Client satisfies it.
type Store interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error
}

// storeRetryInterval is how long a failed store is skipped before the next
// append is attempted.
var storeRetryInterval = 30 * time.Second

var (
	store          Store
	storeMu        sync.RWMutex
	storeErrorLog  bool
	storeDownUntil time.Time
	sessionID      string

	outMu sync.Mutex
	out   io.Writer = os.Stdout

	total atomic.Int64
)

// SetStore sets the event store used for persistence. nil disables it.
func SetStore(s Store) {
	storeMu.Lock()
	store = s
	storeErrorLog = false
	storeDownUntil = time.Time{}
	storeMu.Unlock()
}

// SetSessionID tags every persisted event with the boot session id.
func SetSessionID(id string) {
	storeMu.Lock()
	sessionID = id
	storeMu.Unlock()
}

// SessionID returns the boot session id.
func SessionID() string {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return sessionID
}

// SetOutput redirects the JSON log lines. nil silences them.
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an event: ring buffer, subscribers, store and one JSON line
// on the log output. The encoded line is returned.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	total.Add(1)
	broadcast(e)
	persist(ts, e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outMu.Lock()
	if out != nil {
		out.Write(append(b, '\n'))
	}
	outMu.Unlock()

	return b, nil
}

// persist appends e to the store. After a failure the store is skipped
// until storeRetryInterval has passed. The failure is reported once per
// outage as system.error, added straight to the buffer so it cannot recurse.
func persist(ts time.Time, e Event) {
	storeMu.RLock()
	s := store
	sid := sessionID
	down := storeDownUntil
	storeMu.RUnlock()

	if s == nil || ts.Before(down) {
		return
	}
	err := s.Append(ts, e.Level, e.Name, e.Message, e.Fields, sid)
	if err == nil {
		if !down.IsZero() {
			storeMu.Lock()
			storeDownUntil = time.Time{}
			storeErrorLog = false
			storeMu.Unlock()
		}
		return
	}

	storeMu.Lock()
	storeDownUntil = time.Now().Add(storeRetryInterval)
	if storeErrorLog {
		storeMu.Unlock()
		return
	}
	storeErrorLog = true
	storeMu.Unlock()

	errEvent := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "error",
		Name:      "system.error",
		Message:   "event store append failed",
		Fields: map[string]interface{}{
			"error": err.Error(),
		},
	}
	buffer.Add(errEvent)
	total.Add(1)
	broadcast(errEvent)
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since start.
func TotalCount() int64 {
	return total.Load()
}

// Clear resets the event buffer and counter. Used for testing.
func Clear() {
	buffer.Clear()
	total.Store(0)
}
