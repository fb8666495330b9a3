package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"cadence-diary-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCapture always has a pattern buffered with a scripted quality.
type fakeCapture struct {
	quality float64
}

func (f *fakeCapture) AddTarget(string)    {}
func (f *fakeCapture) RemoveTarget(string) {}
func (f *fakeCapture) Record(string, rune) {}
func (f *fakeCapture) Reset()              {}
func (f *fakeCapture) Pattern(string) (domain.TypingPattern, bool) {
	return "fake-pattern", true
}
func (f *fakeCapture) Quality(string) (float64, bool) {
	return f.quality, true
}

type fakeAPI struct {
	mu sync.Mutex

	loginResponses []*domain.LoginResponse
	noteResponses  []*domain.AuthenticateNoteResponse
	noteErrs       []error
	notePages      []*domain.GetNotesResponse

	loginCalls  int
	noteCalls   int
	pageCalls   int
	lastQuality float64

	savedBatches [][]domain.NoteToSave
	saveErr      error
	onSave       func()
}

func (f *fakeAPI) Login(ctx context.Context, loginID string, pattern domain.TypingPattern, quality float64) (*domain.LoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.loginCalls
	f.loginCalls++
	f.lastQuality = quality
	if i < len(f.loginResponses) {
		return f.loginResponses[i], nil
	}
	return &domain.LoginResponse{AuthenticationStatus: domain.AuthFailure}, nil
}

func (f *fakeAPI) CreateAccount(ctx context.Context, pattern domain.TypingPattern, quality float64) (*domain.CreateAccountResponse, error) {
	return &domain.CreateAccountResponse{AuthenticationStatus: domain.AuthSuccess}, nil
}

func (f *fakeAPI) AuthenticateNote(ctx context.Context, pattern domain.TypingPattern, contents string, noteIndex int64, quality float64) (*domain.AuthenticateNoteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.noteCalls
	f.noteCalls++
	f.lastQuality = quality
	if i < len(f.noteErrs) && f.noteErrs[i] != nil {
		return nil, f.noteErrs[i]
	}
	if i < len(f.noteResponses) {
		return f.noteResponses[i], nil
	}
	return &domain.AuthenticateNoteResponse{AuthenticationStatus: domain.AuthFailure}, nil
}

func (f *fakeAPI) GetNotes(ctx context.Context, beforeIndex int64) (*domain.GetNotesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.pageCalls
	f.pageCalls++
	if i < len(f.notePages) {
		return f.notePages[i], nil
	}
	return &domain.GetNotesResponse{NoAdditionalNotes: true}, nil
}

func (f *fakeAPI) SaveNotes(ctx context.Context, notes []domain.NoteToSave) (*domain.SaveNotesResponse, error) {
	f.mu.Lock()
	if f.onSave != nil {
		f.onSave()
	}
	err := f.saveErr
	if err == nil {
		f.savedBatches = append(f.savedBatches, notes)
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &domain.SaveNotesResponse{SavedCount: len(notes)}, nil
}

func (f *fakeAPI) Logout(ctx context.Context) error { return nil }

func testConfig() ControllerConfig {
	cfg := DefaultControllerConfig()
	// Keep the flush loop quiet during tests; flushes are driven directly.
	cfg.SaveFlushInterval = time.Hour
	return cfg
}

func TestControllerThrottlesNoteSubmissions(t *testing.T) {
	api := &fakeAPI{}
	controller := NewController(api, &fakeCapture{quality: 0.2}, testConfig())

	ctx := context.Background()
	for i := 0; i < 39; i++ {
		resp, err := controller.NoteKeystroke(ctx, 'x', "contents")
		require.NoError(t, err)
		require.Nil(t, resp, "keystroke %d reached the server below both thresholds", i+1)
	}

	resp, err := controller.NoteKeystroke(ctx, 'x', "contents")
	require.NoError(t, err)
	require.NotNil(t, resp, "the key ceiling must force a submission")
	assert.Equal(t, 1, api.noteCalls)
}

func TestControllerTracksAssignedNoteIndex(t *testing.T) {
	api := &fakeAPI{
		noteResponses: []*domain.AuthenticateNoteResponse{{
			AuthenticationStatus:   domain.AuthSuccess,
			AuthenticationProgress: 1,
			NoteData:               &domain.NoteResponse{ID: "n1", Index: 3},
		}},
	}
	controller := NewController(api, &fakeCapture{quality: 0.9}, testConfig())

	ctx := context.Background()
	var resp *domain.AuthenticateNoteResponse
	for i := 0; i < 10; i++ {
		var err error
		resp, err = controller.NoteKeystroke(ctx, 'x', "contents")
		require.NoError(t, err)
	}

	require.NotNil(t, resp)
	assert.Equal(t, domain.AuthSuccess, resp.AuthenticationStatus)
	assert.Equal(t, 1.0, controller.Rings().Match)
	assert.Equal(t, 0.9, api.lastQuality, "the capture quality estimate must reach the server")

	controller.mu.Lock()
	assert.Equal(t, int64(3), controller.noteIndex)
	controller.mu.Unlock()
}

func TestControllerFailureAdvancesMatchRingOnly(t *testing.T) {
	api := &fakeAPI{
		noteResponses: []*domain.AuthenticateNoteResponse{{
			AuthenticationStatus:   domain.AuthFailure,
			AuthenticationProgress: 0.6,
		}},
	}
	controller := NewController(api, &fakeCapture{quality: 0.9}, testConfig())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		controller.NoteKeystroke(ctx, 'x', "contents")
	}

	assert.Equal(t, 0.6, controller.Rings().Match)
}

func TestControllerCoolsAfterTransportError(t *testing.T) {
	api := &fakeAPI{
		noteErrs: []error{context.DeadlineExceeded},
		noteResponses: []*domain.AuthenticateNoteResponse{
			nil,
			{AuthenticationStatus: domain.AuthSuccess, AuthenticationProgress: 1},
		},
	}
	controller := NewController(api, &fakeCapture{quality: 0.9}, testConfig())

	ctx := context.Background()

	// First throttle window: the request fails in transit.
	var resp *domain.AuthenticateNoteResponse
	for i := 0; i < 10; i++ {
		resp, _ = controller.NoteKeystroke(ctx, 'x', "contents")
	}
	require.NotNil(t, resp)
	assert.Equal(t, domain.AuthError, resp.AuthenticationStatus)
	assert.Equal(t, 1, api.noteCalls)

	// The window after an error sits out while the guard cools.
	for i := 0; i < 10; i++ {
		resp, _ = controller.NoteKeystroke(ctx, 'x', "contents")
	}
	assert.Nil(t, resp)
	assert.Equal(t, 1, api.noteCalls)

	// The one after that reaches the server again.
	for i := 0; i < 10; i++ {
		resp, _ = controller.NoteKeystroke(ctx, 'x', "contents")
	}
	require.NotNil(t, resp)
	assert.Equal(t, domain.AuthSuccess, resp.AuthenticationStatus)
	assert.Equal(t, 2, api.noteCalls)
}

func TestControllerFlushSwapsDirtySet(t *testing.T) {
	api := &fakeAPI{}
	controller := NewController(api, &fakeCapture{}, testConfig())

	controller.EditNote("n1", "first")
	controller.EditNote("n2", "second")
	controller.EditNote("n1", "first-revised")

	// An edit landing while the save is in flight must start a fresh batch.
	api.onSave = func() {
		controller.EditNote("n3", "late edit")
	}

	controller.flush(context.Background())

	require.Len(t, api.savedBatches, 1)
	assert.Len(t, api.savedBatches[0], 2)

	controller.mu.Lock()
	assert.Equal(t, map[string]string{"n3": "late edit"}, controller.dirty)
	controller.mu.Unlock()
}

func TestControllerFlushRemergesFailedBatch(t *testing.T) {
	api := &fakeAPI{saveErr: context.DeadlineExceeded}
	controller := NewController(api, &fakeCapture{}, testConfig())

	controller.EditNote("n1", "unsaved")
	controller.flush(context.Background())

	controller.mu.Lock()
	assert.Equal(t, "unsaved", controller.dirty["n1"], "failed edits must survive for the next flush")
	controller.mu.Unlock()

	// A newer edit wins over the re-merged failed one. The first tick after
	// the failure is absorbed by the cooling guard; the batch goes out on
	// the one after.
	api.mu.Lock()
	api.saveErr = nil
	api.mu.Unlock()
	controller.EditNote("n1", "newer")
	controller.flush(context.Background())
	assert.Empty(t, api.savedBatches, "the tick right after a failed save must sit out")
	controller.flush(context.Background())

	require.Len(t, api.savedBatches, 1)
	assert.Equal(t, "newer", api.savedBatches[0][0].Content)
}

func TestControllerPaginationAdvancesToLowestIndex(t *testing.T) {
	api := &fakeAPI{
		notePages: []*domain.GetNotesResponse{
			{RetrievedNotes: []*domain.NoteResponse{{Index: 5}, {Index: 4}}},
			{RetrievedNotes: []*domain.NoteResponse{{Index: 3}, {Index: 2}}},
			{RetrievedNotes: []*domain.NoteResponse{{Index: 1}}, NoAdditionalNotes: true},
		},
	}
	controller := NewController(api, &fakeCapture{}, testConfig())

	ctx := context.Background()
	var collected []int64
	for {
		notes, more, err := controller.LoadMoreNotes(ctx)
		require.NoError(t, err)
		for _, n := range notes {
			collected = append(collected, n.Index)
		}
		if !more {
			break
		}
	}

	assert.Equal(t, []int64{5, 4, 3, 2, 1}, collected)
	assert.Equal(t, 3, api.pageCalls)

	// The end-of-list sentinel sticks: no further server calls.
	notes, more, err := controller.LoadMoreNotes(ctx)
	require.NoError(t, err)
	assert.Nil(t, notes)
	assert.False(t, more)
	assert.Equal(t, 3, api.pageCalls)
}

func TestControllerLifecycle(t *testing.T) {
	api := &fakeAPI{}
	cfg := testConfig()
	cfg.SaveFlushInterval = 10 * time.Millisecond
	controller := NewController(api, NewRecorder(), cfg)

	controller.Initialize()
	controller.EditNote("n1", "content")

	assert.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.savedBatches) == 1
	}, time.Second, 5*time.Millisecond, "the flush loop must pick up dirty notes")

	controller.Teardown(context.Background())
}
