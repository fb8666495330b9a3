package client

import "math"

// ThrottleConfig mirrors the server's client thresholds.
type ThrottleConfig struct {
	// QualityCheckInterval is how many keystrokes pass between quality
	// recomputations of the buffered pattern.
	QualityCheckInterval int
	// MinQuality is the 0..1 quality at which a pattern is worth verifying.
	MinQuality float64
	// MaxKeysPerAttempt forces a verification attempt regardless of quality.
	MaxKeysPerAttempt int
	// ProgressBase shapes the ease-out of the update ring.
	ProgressBase float64
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		QualityCheckInterval: 10,
		MinQuality:           0.5,
		MaxKeysPerAttempt:    40,
		ProgressBase:         20,
	}
}

// matchRingCap keeps the match ring from implying completion before the
// server has actually reported a success.
const matchRingCap = 0.8

// Throttle decides, per keystroke, whether the buffered typing pattern is
// worth submitting for verification. It trades verification latency for call
// volume and a minimum information content per sample.
type Throttle struct {
	cfg ThrottleConfig

	keysPressed           int
	keysSinceQualityCheck int
	keysSinceMatchAttempt int
	currentQuality        float64

	matchRing float64
}

func NewThrottle(cfg ThrottleConfig) *Throttle {
	return &Throttle{cfg: cfg}
}

// Keystroke records one keystroke. qualityFn is consulted every
// QualityCheckInterval keys and reports false while the buffer cannot yet
// yield a pattern. The return value is true when the buffered pattern should
// be submitted for server verification.
func (t *Throttle) Keystroke(qualityFn func() (float64, bool)) bool {
	t.keysPressed++
	t.keysSinceQualityCheck++
	t.keysSinceMatchAttempt++

	if t.keysSinceQualityCheck >= t.cfg.QualityCheckInterval {
		t.keysSinceQualityCheck = 0
		if quality, ok := qualityFn(); ok {
			t.currentQuality = quality
		}
	}

	if t.currentQuality >= t.cfg.MinQuality || t.keysSinceMatchAttempt >= t.cfg.MaxKeysPerAttempt {
		t.resetAttempt()
		return true
	}

	return false
}

func (t *Throttle) resetAttempt() {
	t.keysSinceMatchAttempt = 0
	t.keysSinceQualityCheck = 0
	t.currentQuality = 0
}

// KeysPressed is the lifetime keystroke count for the active target.
func (t *Throttle) KeysPressed() int {
	return t.keysPressed
}

// ReportProgress advances the match ring from a server response. Only server
// responses move it; local typing never does. It is monotonic and capped
// below 1 until success is true.
func (t *Throttle) ReportProgress(progress float64, success bool) {
	if success {
		t.matchRing = 1
		return
	}
	p := clamp01(progress)
	if p > matchRingCap {
		p = matchRingCap
	}
	if p > t.matchRing {
		t.matchRing = p
	}
}

// Rings reports the two progress values. Update is proximity to the next
// verification attempt, eased so early keystrokes show fast feedback; its
// displayed range is confined to the space not already claimed by the match
// ring. Match is cumulative confidence toward full trust.
type Rings struct {
	Update float64
	Match  float64
}

func (t *Throttle) Rings() Rings {
	qualityPart := clamp01(t.currentQuality / t.cfg.MinQuality)
	keysPart := clamp01(float64(t.keysSinceMatchAttempt) / float64(t.cfg.MaxKeysPerAttempt))
	avg := (qualityPart + keysPart) / 2

	update := clamp01(1 - math.Pow(t.cfg.ProgressBase, -avg))
	displayed := t.matchRing + (1-t.matchRing)*update

	return Rings{
		Update: clamp01(displayed),
		Match:  clamp01(t.matchRing),
	}
}

// Reset clears the attempt counters and the rings, e.g. when the capture
// target changes.
func (t *Throttle) Reset() {
	t.keysPressed = 0
	t.resetAttempt()
	t.matchRing = 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
