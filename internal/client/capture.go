package client

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"cadence-diary-server/internal/domain"
)

// CaptureEngine accumulates keystroke events for designated targets and can
// serialize them into an opaque typing-pattern blob. The blob's contents are
// only meaningful to the external matcher.
type CaptureEngine interface {
	AddTarget(targetID string)
	RemoveTarget(targetID string)
	// Record registers one keystroke on a target.
	Record(targetID string, key rune)
	// Pattern produces the buffered pattern for a target, reporting false
	// when too little data is buffered to yield one.
	Pattern(targetID string) (domain.TypingPattern, bool)
	// Quality estimates how informative the buffered sample is, 0..1.
	Quality(targetID string) (float64, bool)
	Reset()
}

// minPatternKeys is the smallest sample the recorder will serialize.
const minPatternKeys = 5

type keyEvent struct {
	Key     rune  `json:"k"`
	DownAt  int64 `json:"d"`
	HeldFor int64 `json:"h"`
}

// Recorder is a terminal-oriented CaptureEngine: it timestamps key events per
// target and serializes them as a base64 blob for the matcher. Quality grows
// with sample size; the matcher's own quality estimate is authoritative.
type Recorder struct {
	mu      sync.Mutex
	targets map[string][]keyEvent
	lastKey time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{targets: make(map[string][]keyEvent)}
}

func (r *Recorder) AddTarget(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[targetID]; !ok {
		r.targets[targetID] = nil
	}
}

func (r *Recorder) RemoveTarget(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, targetID)
}

// Record registers one keystroke on a target.
func (r *Recorder) Record(targetID string, key rune) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, ok := r.targets[targetID]
	if !ok {
		return
	}

	now := time.Now()
	held := int64(0)
	if !r.lastKey.IsZero() {
		held = now.Sub(r.lastKey).Milliseconds()
	}
	r.lastKey = now

	r.targets[targetID] = append(events, keyEvent{
		Key:     key,
		DownAt:  now.UnixMilli(),
		HeldFor: held,
	})
}

func (r *Recorder) Pattern(targetID string) (domain.TypingPattern, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.targets[targetID]
	if len(events) < minPatternKeys {
		return "", false
	}

	raw, err := json.Marshal(events)
	if err != nil {
		return "", false
	}

	return domain.TypingPattern(base64.StdEncoding.EncodeToString(raw)), true
}

func (r *Recorder) Quality(targetID string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.targets[targetID]
	if len(events) < minPatternKeys {
		return 0, false
	}

	quality := float64(len(events)) / 60
	if quality > 1 {
		quality = 1
	}
	return quality, true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.targets {
		r.targets[id] = nil
	}
	r.lastKey = time.Time{}
}
