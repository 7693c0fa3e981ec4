package connection

import (
	"time"

	"github.com/nerrad567/drivelink/internal/driver"
)

// state is the single connection record of a Manager. Guarded by Manager.mu.
//
// Invariants:
//   - handle != nil implies identity != ""
//   - isRebooting implies connectionLost
//
// The handle is kept while the connection is lost so CheckConnection can
// re-verify it; it is only replaced by adopt or cleared by reset.
type state struct {
	handle     driver.Handle
	generation uint64

	identity     driver.Identity
	session      string
	hint         driver.Identity
	hintMismatch bool
	connectedAt  time.Time

	connectionLost    bool
	isRebooting       bool
	rebootStartedAt   time.Time
	reconnectAttempts int
	lastError         string
}

func (s *state) isConnected() bool {
	return s.handle != nil && !s.connectionLost
}

// reset clears everything. The generation keeps counting so results from
// the previous session are recognised as stale.
func (s *state) reset() {
	*s = state{generation: s.generation + 1}
}

// adopt installs a freshly discovered handle.
func (s *state) adopt(h driver.Handle, now time.Time) {
	s.handle = h
	s.generation++
	s.connectedAt = now
}

func (s *state) markRecovered() {
	s.connectionLost = false
	s.isRebooting = false
	s.rebootStartedAt = time.Time{}
	s.reconnectAttempts = 0
	s.lastError = ""
}

// SupervisorState is the phase of the reconnect supervisor.
type SupervisorState string

const (
	SupervisorIdle       SupervisorState = "idle"
	SupervisorWaiting    SupervisorState = "waiting"
	SupervisorAttempting SupervisorState = "attempting"
	SupervisorExhausted  SupervisorState = "exhausted"
)

// Snapshot is a consistent copy of the connection state.
type Snapshot struct {
	Connected            bool            `json:"connected"`
	ConnectionLost       bool            `json:"connection_lost"`
	Identity             driver.Identity `json:"device_serial,omitempty"`
	IsRebooting          bool            `json:"is_rebooting"`
	RebootStartedAt      time.Time       `json:"reboot_started_at,omitzero"`
	ReconnectAttempts    int             `json:"reconnection_attempts"`
	MaxReconnectAttempts int             `json:"max_reconnection_attempts"`
	Supervisor           SupervisorState `json:"supervisor"`
	NextAttemptAt        time.Time       `json:"next_attempt_at,omitzero"`
	SessionID            string          `json:"session_id,omitempty"`
	Generation           uint64          `json:"generation"`
	ConnectedAt          time.Time       `json:"connected_at,omitzero"`
	RequestedIdentity    driver.Identity `json:"requested_serial,omitempty"`
	IdentityMismatch     bool            `json:"identity_mismatch,omitempty"`
	LastError            string          `json:"last_error,omitempty"`
}

// Exhausted reports whether the supervisor gave up on this loss episode.
func (s Snapshot) Exhausted() bool {
	return s.Supervisor == SupervisorExhausted
}

// Err returns ErrReconnectExhausted once the supervisor has given up,
// and nil otherwise.
func (s Snapshot) Err() error {
	if s.Exhausted() {
		return ErrReconnectExhausted
	}
	return nil
}
