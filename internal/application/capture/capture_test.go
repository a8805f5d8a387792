package capture

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/note-capture/note-capture/internal/application/statemachine"
	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/domain/note"
	"github.com/note-capture/note-capture/internal/domain/note/mocks"
	"github.com/note-capture/note-capture/internal/domain/state"
	"github.com/note-capture/note-capture/internal/infrastructure/eventbus"
)

type harness struct {
	d       *statemachine.Dispatcher
	bus     *eventbus.Bus
	session *Session
}

func newHarness(t *testing.T, deps Deps, opts ...statemachine.Option) *harness {
	t.Helper()
	bus := eventbus.New("test", zerolog.Nop())
	d := statemachine.New(statemachine.DefaultInitialState, bus, zerolog.Nop(), opts...)
	deps.Logger = zerolog.Nop()
	session, err := Register(d, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	require.Eventually(t, d.Running, time.Second, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{d: d, bus: bus, session: session}
}

func (h *harness) emit(t *testing.T, ev event.Event) {
	t.Helper()
	h.d.Enqueue(ev)
}

func (h *harness) waitFor(t *testing.T, s state.BusinessState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.d.CurrentState() == s }, time.Second, time.Millisecond,
		"expected %s, got %s", s.Name(), h.d.CurrentState().Name())
}

func (h *harness) captured(t *testing.T) <-chan event.Event {
	t.Helper()
	ch := make(chan event.Event, 8)
	h.bus.Subscribe(event.TypeNotesCaptured, func(ctx context.Context, ev event.Event) error {
		ch <- ev
		return nil
	})
	return ch
}

func mustFilter(t *testing.T, expr string) *Filter {
	t.Helper()
	f, err := NewFilter(expr)
	require.NoError(t, err)
	return f
}

func TestLoginFlow(t *testing.T) {
	h := newHarness(t, Deps{})

	h.emit(t, event.LoginRequired())
	h.waitFor(t, state.LoginWait)

	h.emit(t, event.LoginExpired())
	h.waitFor(t, state.CheckingLogin)

	h.emit(t, event.LoginSuccess())
	h.waitFor(t, state.ListState)
	assert.Equal(t, state.CheckingLogin, h.d.PreviousState())
}

func TestSearchStoresFilteredNotes(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	repo.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, n *note.Note) error {
		assert.Equal(t, "popular", n.NoteID)
		assert.Equal(t, note.URLFor("popular"), n.NoteURL)
		assert.False(t, n.CaptureTime.IsZero())
		return nil
	}).Times(1)

	h := newHarness(t, Deps{Notes: repo, Filter: mustFilter(t, "like_count >= 100")})
	captured := h.captured(t)

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.Search("hiking"))
	h.waitFor(t, state.Searching)
	assert.Equal(t, "hiking", h.session.Keyword())

	h.emit(t, event.SearchResult([]note.Note{
		{NoteID: "popular", Interaction: note.Interaction{LikeCount: 500}},
		{NoteID: "quiet", Interaction: note.Interaction{LikeCount: 3}},
	}))
	h.waitFor(t, state.ListState)

	select {
	case ev := <-captured:
		assert.Equal(t, "hiking", ev.String("keyword"))
		assert.Equal(t, 1, ev.Data["count"])
		assert.Equal(t, 2, ev.Data["received"])
		assert.Equal(t, []string{"popular"}, ev.Data["note_ids"])
		assert.Equal(t, Source, ev.Source)
	case <-time.After(time.Second):
		t.Fatal("notes_captured was not published")
	}
	assert.Equal(t, 1, h.session.Snapshot().Captured)
}

func TestSearchContinuesAfterSaveFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	gomock.InOrder(
		repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(assert.AnError),
		repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil),
	)

	h := newHarness(t, Deps{Notes: repo})
	captured := h.captured(t)

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.Search("tea"))
	h.emit(t, event.SearchResult([]*note.Note{{NoteID: "a"}, {NoteID: "b"}}))
	h.waitFor(t, state.ListState)
	require.Eventually(t, func() bool { return h.d.PreviousState() == state.Searching }, time.Second, time.Millisecond)

	select {
	case ev := <-captured:
		assert.Equal(t, []string{"b"}, ev.Data["note_ids"])
	case <-time.After(time.Second):
		t.Fatal("notes_captured was not published")
	}
}

func TestQueuedPayloadIsNotMutated(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	h := newHarness(t, Deps{Notes: repo})

	results := []note.Note{{NoteID: "a"}}
	search := event.SearchResult(results)
	h.emit(t, event.LoginSuccess())
	h.emit(t, event.Search("tea"))
	h.emit(t, search)
	h.waitFor(t, state.ListState)
	require.Eventually(t, func() bool { return h.d.PreviousState() == state.Searching }, time.Second, time.Millisecond)

	opened := []note.Note{{NoteID: "b"}}
	detail := event.MustNew(event.TypeDetailLoaded, map[string]any{"notes": opened})
	h.emit(t, event.NoteSelect("b"))
	h.emit(t, event.NoteClicked("b"))
	h.emit(t, detail)
	h.emit(t, event.BackToList())
	h.waitFor(t, state.ListState)
	require.Eventually(t, func() bool { return h.d.PreviousState() == state.DetailState }, time.Second, time.Millisecond)

	for _, payload := range [][]note.Note{results, search.Data["notes"].([]note.Note), opened, detail.Data["notes"].([]note.Note)} {
		require.Len(t, payload, 1)
		assert.Empty(t, payload[0].NoteURL)
		assert.Empty(t, payload[0].SourceType)
		assert.True(t, payload[0].CaptureTime.IsZero())
	}
}

func TestListAbsorbsSearchResult(t *testing.T) {
	h := newHarness(t, Deps{})

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.SearchResult([]note.Note{{NoteID: "late"}}))
	h.emit(t, event.NoteSelect("n-1"))
	h.waitFor(t, state.Selecting)

	assert.Equal(t, state.ListState, h.d.PreviousState())
	assert.Equal(t, "n-1", h.session.SelectedNoteID())
	assert.Empty(t, h.d.Diagnostics())
}

func TestDetailStoresGenericPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	repo.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, n *note.Note) error {
		assert.Equal(t, "n-7", n.NoteID)
		assert.Equal(t, "Lantern festival", n.Title)
		assert.Equal(t, 42, n.Interaction.LikeCount)
		return nil
	})

	h := newHarness(t, Deps{Notes: repo})
	captured := h.captured(t)

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.NoteSelect("n-7"))
	h.emit(t, event.NoteClicked("n-7"))
	h.waitFor(t, state.DetailState)

	// Shape of a payload posted as JSON over HTTP.
	h.emit(t, event.MustNew(event.TypeDetailLoaded, map[string]any{
		"note_id": "n-7",
		"note": map[string]any{
			"noteId":      "n-7",
			"title":       "Lantern festival",
			"interaction": map[string]any{"likeCount": float64(42)},
		},
	}))

	select {
	case ev := <-captured:
		assert.Equal(t, []string{"n-7"}, ev.Data["note_ids"])
	case <-time.After(time.Second):
		t.Fatal("notes_captured was not published")
	}

	h.emit(t, event.BackToList())
	h.waitFor(t, state.ListState)
	assert.Empty(t, h.session.SelectedNoteID())
}

func commentIDs(cs []note.Comment) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.CommentID)
	}
	return ids
}

// openDetail drives the workflow into DETAIL_STATE on noteID.
func (h *harness) openDetail(t *testing.T, noteID string) {
	t.Helper()
	h.emit(t, event.LoginSuccess())
	h.emit(t, event.NoteSelect(noteID))
	h.emit(t, event.NoteClicked(noteID))
	h.waitFor(t, state.DetailState)
}

func TestDetailMergesComments(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	saved := make(chan note.Note, 4)
	repo.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, n *note.Note) error {
		saved <- *n
		return nil
	}).Times(3)

	h := newHarness(t, Deps{Notes: repo})
	captured := h.captured(t)
	h.openDetail(t, "n-1")

	loaded := &note.Note{NoteID: "n-1", Title: "T"}
	h.emit(t, event.MustNew(event.TypeDetailLoaded, map[string]any{"note_id": "n-1", "note": loaded}))

	first := []note.Comment{{CommentID: "c1"}, {CommentID: "c1-1"}}
	h.emit(t, event.CommentsLoaded("n-1", first))
	h.emit(t, event.CommentsLoaded("n-1", []note.Comment{{CommentID: "c1"}, {CommentID: "c2"}}))

	var got []note.Note
	for len(got) < 3 {
		select {
		case n := <-saved:
			got = append(got, n)
		case <-time.After(time.Second):
			t.Fatalf("expected 3 saves, got %d", len(got))
		}
	}
	assert.Empty(t, got[0].Comments)
	assert.Equal(t, []string{"c1", "c1-1"}, commentIDs(got[1].Comments))
	assert.Equal(t, []string{"c1", "c1-1", "c2"}, commentIDs(got[2].Comments))
	assert.Equal(t, "T", got[2].Title)
	assert.False(t, got[2].CaptureTime.IsZero())

	assert.Nil(t, loaded.Comments)
	assert.Len(t, first, 2)
	assert.Equal(t, 1, h.session.Snapshot().Captured)

	var last event.Event
	for i := 0; i < 3; i++ {
		select {
		case last = <-captured:
		case <-time.After(time.Second):
			t.Fatal("notes_captured was not published")
		}
	}
	assert.Equal(t, 3, last.Data["comments"])
}

func TestDetailHoldsEarlyComments(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	saved := make(chan note.Note, 2)
	repo.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, n *note.Note) error {
		saved <- *n
		return nil
	}).Times(1)

	h := newHarness(t, Deps{Notes: repo})
	h.openDetail(t, "n-2")

	// Posted over HTTP, so the comments arrive as generic JSON.
	h.emit(t, event.MustNew(event.TypeCommentsLoaded, map[string]any{
		"comments": []any{map[string]any{"commentId": "c1", "content": "first"}},
	}))
	h.emit(t, event.CommentsLoaded("other", []note.Comment{{CommentID: "x"}}))
	h.emit(t, event.CommentsLoaded("n-2", []note.Comment{{CommentID: "c2"}}))
	h.emit(t, event.MustNew(event.TypeDetailLoaded, map[string]any{"note": note.Note{NoteID: "n-2"}}))

	select {
	case n := <-saved:
		assert.Equal(t, "n-2", n.NoteID)
		assert.Equal(t, []string{"c1", "c2"}, commentIDs(n.Comments))
		assert.Equal(t, "first", n.Comments[0].Content)
	case <-time.After(time.Second):
		t.Fatal("detail was not saved")
	}
}

func TestCommentsDroppedOutsideDetail(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	saved := make(chan note.Note, 1)
	repo.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, n *note.Note) error {
		saved <- *n
		return nil
	}).Times(1)

	h := newHarness(t, Deps{Notes: repo})
	h.openDetail(t, "n-3")
	h.emit(t, event.CommentsLoaded("n-3", []note.Comment{{CommentID: "held"}}))
	h.emit(t, event.BackToList())
	h.emit(t, event.CommentsLoaded("n-3", []note.Comment{{CommentID: "late"}}))
	h.emit(t, event.NoteSelect("n-3"))
	h.emit(t, event.NoteClicked("n-3"))
	h.emit(t, event.MustNew(event.TypeDetailLoaded, map[string]any{"note": &note.Note{NoteID: "n-3"}}))

	select {
	case n := <-saved:
		assert.Empty(t, n.Comments)
	case <-time.After(time.Second):
		t.Fatal("detail was not saved")
	}
	assert.Equal(t, state.DetailState, h.d.CurrentState())
	assert.Empty(t, h.d.Diagnostics())
}

func TestDetailSkipsFilteredNote(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	repo.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	h := newHarness(t, Deps{Notes: repo, Filter: mustFilter(t, "has_video == true")})

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.NoteSelect("n-8"))
	h.emit(t, event.NoteClicked("n-8"))
	h.emit(t, event.MustNew(event.TypeDetailLoaded, map[string]any{"note": &note.Note{NoteID: "n-8"}}))
	h.emit(t, event.BackToList())
	h.waitFor(t, state.ListState)
	require.Eventually(t, func() bool { return h.d.PreviousState() == state.DetailState }, time.Second, time.Millisecond)
	assert.Zero(t, h.session.Snapshot().Captured)
}

func TestSelectingCancel(t *testing.T) {
	h := newHarness(t, Deps{})

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.NoteSelect("n-2"))
	h.waitFor(t, state.Selecting)
	h.emit(t, event.CancelSelect())
	h.waitFor(t, state.ListState)
	assert.Empty(t, h.session.SelectedNoteID())
}

func TestErrorFromAnyStateAndRecovery(t *testing.T) {
	h := newHarness(t, Deps{})
	published := make(chan event.Event, 1)
	h.bus.Subscribe(event.TypeError, func(ctx context.Context, ev event.Event) error {
		published <- ev
		return nil
	})

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.Search("noodles"))
	h.waitFor(t, state.Searching)

	h.emit(t, event.Failure("network down"))
	h.waitFor(t, state.Error)
	assert.Equal(t, "network down", h.session.LastError())

	select {
	case ev := <-published:
		assert.Equal(t, "network down", ev.String("message"))
		assert.Equal(t, state.Searching.Name(), ev.String("from"))
	case <-time.After(time.Second):
		t.Fatal("error was not published")
	}

	h.emit(t, event.SystemInitialized())
	h.waitFor(t, state.CheckingLogin)
	assert.Empty(t, h.session.LastError())
}

func TestErrorEdgeRejectedUnderStrictPolicy(t *testing.T) {
	h := newHarness(t, Deps{}, statemachine.WithPolicy(statemachine.PolicyStrict))

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.Search("x"))
	h.emit(t, event.Failure("boom"))
	h.emit(t, event.SearchResult(nil))
	h.waitFor(t, state.ListState)
	require.Eventually(t, func() bool { return len(h.d.Diagnostics()) == 1 }, time.Second, time.Millisecond)

	diag := h.d.Diagnostics()[0]
	assert.Equal(t, statemachine.KindTransitionRejected, diag.Kind)
	assert.Equal(t, state.Searching, diag.State)
	assert.Equal(t, state.Error, diag.Target)
}

func TestStopRunsCallback(t *testing.T) {
	var stopped atomic.Int32
	h := newHarness(t, Deps{OnStop: func() { stopped.Add(1) }})

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.Stop())
	h.waitFor(t, state.Stop)
	require.Eventually(t, func() bool { return stopped.Load() == 1 }, time.Second, time.Millisecond)

	h.emit(t, event.LoginSuccess())
	h.emit(t, event.Search("ignored"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, state.Stop, h.d.CurrentState())
	assert.Equal(t, int32(1), stopped.Load())
}

func TestErrorStateStops(t *testing.T) {
	var stopped atomic.Bool
	h := newHarness(t, Deps{OnStop: func() { stopped.Store(true) }})

	h.emit(t, event.Failure("fatal"))
	h.waitFor(t, state.Error)
	h.emit(t, event.Stop())
	h.waitFor(t, state.Stop)
	require.Eventually(t, stopped.Load, time.Second, time.Millisecond)
}

func TestRegisterWhileRunning(t *testing.T) {
	h := newHarness(t, Deps{})
	_, err := Register(h.d, Deps{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, statemachine.ErrRunning)
}

func TestFilter(t *testing.T) {
	popular := &note.Note{Interaction: note.Interaction{LikeCount: 150}}
	video := &note.Note{MediaList: []note.MediaInfo{{MediaType: note.MediaVideo}}}

	tests := []struct {
		expr string
		n    *note.Note
		want bool
	}{
		{"", popular, true},
		{"  TRUE ", popular, true},
		{"false", popular, false},
		{"like_count >= 100", popular, true},
		{"like_count >= 100", video, false},
		{"has_video == true && media_count > 0", video, true},
		{"title == 'x' || like_count > 100", popular, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := NewFilter(tt.expr)
			require.NoError(t, err)
			got, err := f.Match(tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_Invalid(t *testing.T) {
	_, err := NewFilter("like_count >=")
	require.Error(t, err)
}

func TestFilter_NonBoolean(t *testing.T) {
	f, err := NewFilter("like_count + 1")
	require.NoError(t, err)
	_, err = f.Match(&note.Note{})
	require.Error(t, err)
}

func TestFilter_Nil(t *testing.T) {
	var f *Filter
	ok, err := f.Match(&note.Note{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", f.String())
}
