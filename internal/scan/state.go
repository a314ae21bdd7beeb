package scan

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
)

// ErrScanInProgress is returned when a scan is requested while another one
// holds the gate.
var ErrScanInProgress = eris.New("scan already in progress")

// Progress is a point-in-time view of the scan gate.
type Progress struct {
	Running   bool       `json:"running"`
	Subject   string     `json:"subject,omitempty"`
	Stage     string     `json:"stage,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// State is the process-wide scan gate. At most one scan holds it.
type State struct {
	mu        sync.Mutex
	running   bool
	subject   string
	stage     string
	startedAt time.Time
}

// NewState returns an idle gate.
func NewState() *State {
	return &State{}
}

// TryAcquire takes the gate for subject. It returns false without side
// effects when a scan is already running.
func (s *State) TryAcquire(subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.subject = subject
	s.stage = "starting"
	s.startedAt = time.Now().UTC()
	return true
}

// Release frees the gate.
func (s *State) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.subject = ""
	s.stage = ""
	s.startedAt = time.Time{}
}

// SetStage records the current stage of the running scan.
func (s *State) SetStage(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.stage = stage
	}
}

// Busy reports whether a scan holds the gate.
func (s *State) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot returns the current progress.
func (s *State) Snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Progress{Running: s.running, Subject: s.subject, Stage: s.stage}
	if s.running {
		t := s.startedAt
		p.StartedAt = &t
	}
	return p
}

// FileLock guards scans across processes sharing one database.
type FileLock struct {
	lock *flock.Flock
}

// NewFileLock creates the lock file's directory if needed.
func NewFileLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "scan: create lock dir")
	}
	return &FileLock{lock: flock.New(path)}, nil
}

// TryLock takes the lock without blocking.
func (l *FileLock) TryLock() (bool, error) {
	ok, err := l.lock.TryLock()
	if err != nil {
		return false, eris.Wrap(err, "scan: try lock")
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	return eris.Wrap(l.lock.Unlock(), "scan: unlock")
}
