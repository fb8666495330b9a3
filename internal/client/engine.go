package client

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"cadence-diary-server/internal/domain"
)

const (
	loginTarget = "login-input"
	noteTarget  = "note-input"
)

// ControllerConfig tunes the engine's timers and thresholds.
type ControllerConfig struct {
	Throttle          ThrottleConfig
	SaveFlushInterval time.Duration
	RequestTimeout    time.Duration
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Throttle:          DefaultThrottleConfig(),
		SaveFlushInterval: 2 * time.Second,
		RequestTimeout:    10 * time.Second,
	}
}

// API is the slice of the server surface the controller drives. *APIClient
// implements it; tests substitute a scripted fake.
type API interface {
	Login(ctx context.Context, loginID string, pattern domain.TypingPattern, quality float64) (*domain.LoginResponse, error)
	CreateAccount(ctx context.Context, pattern domain.TypingPattern, quality float64) (*domain.CreateAccountResponse, error)
	AuthenticateNote(ctx context.Context, pattern domain.TypingPattern, contents string, noteIndex int64, quality float64) (*domain.AuthenticateNoteResponse, error)
	GetNotes(ctx context.Context, beforeIndex int64) (*domain.GetNotesResponse, error)
	SaveNotes(ctx context.Context, notes []domain.NoteToSave) (*domain.SaveNotesResponse, error)
	Logout(ctx context.Context) error
}

// Controller is the single owned client object: it binds the capture engine,
// the throttle, the API client, and the dirty-note set, replacing what was
// once a pile of module-level globals. Construct once, Initialize, Teardown.
type Controller struct {
	cfg     ControllerConfig
	api     API
	capture CaptureEngine

	loginThrottle *Throttle
	noteThrottle  *Throttle

	loginOp InFlightGuard
	noteOp  InFlightGuard
	saveOp  InFlightGuard

	mu          sync.Mutex
	dirty       map[string]string
	cursor      int64
	noMoreNotes bool
	noteIndex   int64

	done    chan struct{}
	stopped sync.WaitGroup
}

func NewController(api API, capture CaptureEngine, cfg ControllerConfig) *Controller {
	return &Controller{
		cfg:           cfg,
		api:           api,
		capture:       capture,
		loginThrottle: NewThrottle(cfg.Throttle),
		noteThrottle:  NewThrottle(cfg.Throttle),
		dirty:         make(map[string]string),
		noteIndex:     domain.NextNoteIndex,
	}
}

// Initialize binds the capture targets and starts the save-flush loop.
func (c *Controller) Initialize() {
	c.capture.AddTarget(loginTarget)
	c.capture.AddTarget(noteTarget)

	c.done = make(chan struct{})
	c.stopped.Add(1)
	go c.flushLoop()
}

// Teardown stops the flush loop, flushes whatever is still dirty, and
// releases the capture targets.
func (c *Controller) Teardown(ctx context.Context) {
	close(c.done)
	c.stopped.Wait()

	c.flush(ctx)

	c.capture.RemoveTarget(loginTarget)
	c.capture.RemoveTarget(noteTarget)
	c.capture.Reset()
}

// LoginKeystroke records one keystroke on the login field and, when the
// throttle fires, submits the buffered pattern. A nil response means the
// keystroke was absorbed without a server call.
func (c *Controller) LoginKeystroke(ctx context.Context, key rune, loginID string) (*domain.LoginResponse, error) {
	c.capture.Record(loginTarget, key)
	return c.maybeSubmitLogin(ctx, loginID)
}

func (c *Controller) maybeSubmitLogin(ctx context.Context, loginID string) (*domain.LoginResponse, error) {
	submit := c.loginThrottle.Keystroke(func() (float64, bool) {
		return c.capture.Quality(loginTarget)
	})
	if !submit {
		return nil, nil
	}

	pattern, ok := c.capture.Pattern(loginTarget)
	if !ok {
		return nil, nil
	}

	if !c.loginOp.TryBegin() {
		// A cooling guard sat out this attempt; the next one may proceed.
		c.loginOp.Release()
		return nil, nil
	}
	cool := false
	defer func() { c.loginOp.Finish(cool) }()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	quality, _ := c.capture.Quality(loginTarget)

	resp, err := c.api.Login(ctx, loginID, pattern, quality)
	if err != nil {
		cool = true
		return &domain.LoginResponse{AuthenticationStatus: domain.AuthError}, nil
	}

	if resp.AuthenticationStatus == domain.AuthSuccess {
		c.loginThrottle.ReportProgress(1, true)
	}

	return resp, nil
}

// SubmitCreateAccount sends the pattern buffered from retyping the
// identifier. The server pairs it with the pattern pending on the session.
func (c *Controller) SubmitCreateAccount(ctx context.Context) (*domain.CreateAccountResponse, error) {
	pattern, ok := c.capture.Pattern(loginTarget)
	if !ok {
		return nil, fmt.Errorf("not enough keystrokes buffered")
	}

	if !c.loginOp.TryBegin() {
		c.loginOp.Release()
		return nil, fmt.Errorf("login request already in flight")
	}
	cool := false
	defer func() { c.loginOp.Finish(cool) }()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	quality, _ := c.capture.Quality(loginTarget)

	resp, err := c.api.CreateAccount(ctx, pattern, quality)
	if err != nil {
		cool = true
		return &domain.CreateAccountResponse{AuthenticationStatus: domain.AuthError}, nil
	}

	if resp.AuthenticationStatus == domain.AuthSuccess {
		c.loginThrottle.ReportProgress(1, true)
	}

	return resp, nil
}

// NoteKeystroke records one keystroke over the note being written and, when
// the throttle fires, submits the pattern for continuous verification.
func (c *Controller) NoteKeystroke(ctx context.Context, key rune, contents string) (*domain.AuthenticateNoteResponse, error) {
	c.capture.Record(noteTarget, key)

	submit := c.noteThrottle.Keystroke(func() (float64, bool) {
		return c.capture.Quality(noteTarget)
	})
	if !submit {
		return nil, nil
	}

	pattern, ok := c.capture.Pattern(noteTarget)
	if !ok {
		return nil, nil
	}

	if !c.noteOp.TryBegin() {
		c.noteOp.Release()
		return nil, nil
	}
	cool := false
	defer func() { c.noteOp.Finish(cool) }()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	c.mu.Lock()
	index := c.noteIndex
	c.mu.Unlock()

	quality, _ := c.capture.Quality(noteTarget)

	resp, err := c.api.AuthenticateNote(ctx, pattern, contents, index, quality)
	if err != nil {
		cool = true
		return &domain.AuthenticateNoteResponse{AuthenticationStatus: domain.AuthError}, nil
	}

	switch resp.AuthenticationStatus {
	case domain.AuthSuccess:
		c.noteThrottle.ReportProgress(1, true)
		if resp.NoteData != nil {
			c.mu.Lock()
			c.noteIndex = resp.NoteData.Index
			c.mu.Unlock()
		}
	case domain.AuthFailure:
		c.noteThrottle.ReportProgress(resp.AuthenticationProgress, false)
	}

	return resp, nil
}

// EditNote marks a note dirty. The periodic flush picks it up.
func (c *Controller) EditNote(noteID, contents string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty[noteID] = contents
}

// LoadMoreNotes fetches the next reverse-chronological page, advancing the
// cursor to the lowest index seen. It reports false once the server signals
// the end of the list.
func (c *Controller) LoadMoreNotes(ctx context.Context) ([]*domain.NoteResponse, bool, error) {
	c.mu.Lock()
	if c.noMoreNotes {
		c.mu.Unlock()
		return nil, false, nil
	}
	cursor := c.cursor
	c.mu.Unlock()

	if cursor == 0 {
		cursor = math.MaxInt64
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.api.GetNotes(ctx, cursor)
	if err != nil {
		return nil, true, err
	}

	c.mu.Lock()
	for _, n := range resp.RetrievedNotes {
		if c.cursor == 0 || n.Index < c.cursor {
			c.cursor = n.Index
		}
	}
	if resp.NoAdditionalNotes {
		c.noMoreNotes = true
	}
	more := !c.noMoreNotes
	c.mu.Unlock()

	return resp.RetrievedNotes, more, nil
}

// Rings exposes the note-authentication progress rings for UI feedback.
func (c *Controller) Rings() Rings {
	return c.noteThrottle.Rings()
}

// LoginRings exposes the login progress rings.
func (c *Controller) LoginRings() Rings {
	return c.loginThrottle.Rings()
}

// ResetLoginCapture clears the login buffer, e.g. before the user retypes
// their identifier on the account-creation path.
func (c *Controller) ResetLoginCapture() {
	c.capture.RemoveTarget(loginTarget)
	c.capture.AddTarget(loginTarget)
	c.loginThrottle.Reset()
}

func (c *Controller) flushLoop() {
	defer c.stopped.Done()

	ticker := time.NewTicker(c.cfg.SaveFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush(context.Background())
		case <-c.done:
			return
		}
	}
}

// flush sends the whole dirty set as one batch. The set is swapped out
// before the network call so edits arriving while the save is in flight
// start a fresh batch instead of being dropped or double-sent.
func (c *Controller) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.dirty
	c.dirty = make(map[string]string)
	c.mu.Unlock()

	if !c.saveOp.TryBegin() {
		// A save is already in flight or cooling; put the batch back for
		// the next tick.
		c.saveOp.Release()
		c.remerge(batch)
		return
	}
	cool := false
	defer func() { c.saveOp.Finish(cool) }()

	notes := make([]domain.NoteToSave, 0, len(batch))
	for id, contents := range batch {
		notes = append(notes, domain.NoteToSave{ID: id, Content: contents})
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if _, err := c.api.SaveNotes(ctx, notes); err != nil {
		// Failed edits go back in unless newer content superseded them.
		cool = true
		c.remerge(batch)
	}
}

func (c *Controller) remerge(batch map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, contents := range batch {
		if _, ok := c.dirty[id]; !ok {
			c.dirty[id] = contents
		}
	}
}

// Logout ends the session server-side.
func (c *Controller) Logout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.api.Logout(ctx)
}
