package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/chathub/internal/events"
	"github.com/Tyrowin/chathub/internal/testutil"
)

type fakeFetcher struct {
	mu        sync.Mutex
	pageErr   error
	pageCalls map[string]int
	dataCalls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pageCalls: map[string]int{}, dataCalls: map[string]int{}}
}

func (f *fakeFetcher) FetchPage(_ context.Context, page string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls[page]++
	if f.pageErr != nil {
		return "", f.pageErr
	}
	return "<h2>" + page + "</h2>", nil
}

func (f *fakeFetcher) FetchData(_ context.Context, page string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dataCalls[page]++
	if page == PageSettings {
		return nil, nil
	}
	return json.RawMessage(`{"page":"` + page + `"}`), nil
}

func (f *fakeFetcher) failPages(err error) {
	f.mu.Lock()
	f.pageErr = err
	f.mu.Unlock()
}

func (f *fakeFetcher) pages(page string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls[page]
}

func (f *fakeFetcher) data(page string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dataCalls[page]
}

type recordingView struct {
	mu    sync.Mutex
	calls []string
	links []bool
	errs  int
}

func (v *recordingView) record(call string) {
	v.mu.Lock()
	v.calls = append(v.calls, call)
	v.mu.Unlock()
}

func (v *recordingView) ShowLoading(page string)                { v.record("loading " + page) }
func (v *recordingView) ShowPage(page, _ string)                { v.record("page " + page) }
func (v *recordingView) ShowData(page string, _ json.RawMessage) { v.record("data " + page) }

func (v *recordingView) ShowError(page string, _ error) {
	v.mu.Lock()
	v.errs++
	v.mu.Unlock()
	v.record("error " + page)
}

func (v *recordingView) ShowConnection(connected bool) {
	v.mu.Lock()
	v.links = append(v.links, connected)
	v.mu.Unlock()
}

func (v *recordingView) history() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

func (v *recordingView) connections() []bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]bool(nil), v.links...)
}

func (v *recordingView) reset() {
	v.mu.Lock()
	v.calls = nil
	v.mu.Unlock()
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type fakeStream struct {
	events    chan events.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan events.Event), done: make(chan struct{})}
}

func (s *fakeStream) Next() (events.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

type fakeSource struct {
	streams chan *fakeStream
	mu      sync.Mutex
	dials   int
}

func (s *fakeSource) Connect(ctx context.Context) (Stream, error) {
	s.mu.Lock()
	s.dials++
	s.mu.Unlock()
	select {
	case st := <-s.streams:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSource) connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// manualAfter hands out timer channels the test fires explicitly.
type manualAfter struct {
	mu     sync.Mutex
	delays []time.Duration
	fire   chan time.Time
}

func (a *manualAfter) After(d time.Duration) <-chan time.Time {
	a.mu.Lock()
	a.delays = append(a.delays, d)
	a.mu.Unlock()
	return a.fire
}

func (a *manualAfter) waits() []time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Duration(nil), a.delays...)
}

func quietOptions() Options {
	return Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoadPageTransitionsAndCache(t *testing.T) {
	fetcher := newFakeFetcher()
	view := &recordingView{}
	c := NewController(fetcher, view, nil, quietOptions())

	if c.State() != Uninitialized {
		t.Fatalf("expected uninitialized, got %s", c.State())
	}
	if err := c.LoadPage(context.Background(), PageUsers); err != nil {
		t.Fatalf("LoadPage returned error: %v", err)
	}
	if c.State() != Displayed {
		t.Errorf("expected displayed, got %s", c.State())
	}
	if want := []string{"loading users", "page users", "data users"}; !equal(view.history(), want) {
		t.Errorf("view calls = %v, want %v", view.history(), want)
	}

	if err := c.LoadPage(context.Background(), PageLogs); err != nil {
		t.Fatalf("LoadPage returned error: %v", err)
	}
	view.reset()
	if err := c.LoadPage(context.Background(), PageUsers); err != nil {
		t.Fatalf("LoadPage returned error: %v", err)
	}
	if got := fetcher.pages(PageUsers); got != 1 {
		t.Errorf("expected a cached revisit to skip the fragment fetch, got %d fetches", got)
	}
	if want := []string{"page users", "data users"}; !equal(view.history(), want) {
		t.Errorf("cached view calls = %v, want %v", view.history(), want)
	}
	if c.Cache().Len() != 2 {
		t.Errorf("expected 2 cached pages, got %d", c.Cache().Len())
	}
}

func TestLoadPageFailureAndReload(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.failPages(errors.New("boom"))
	view := &recordingView{}
	c := NewController(fetcher, view, nil, quietOptions())

	if err := c.LoadPage(context.Background(), PageMessages); err == nil {
		t.Fatal("expected LoadPage to fail")
	}
	if c.State() != Failed {
		t.Fatalf("expected failed, got %s", c.State())
	}
	if fetcher.data(PageMessages) != 0 {
		t.Error("data must not be fetched for a failed page")
	}
	if c.Cache().Len() != 0 {
		t.Error("failed pages must not be cached")
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Errorf("Refresh on a failed page returned error: %v", err)
	}
	if fetcher.data(PageMessages) != 0 {
		t.Error("Refresh must not act on a failed page")
	}

	fetcher.failPages(nil)
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload returned error: %v", err)
	}
	if c.State() != Displayed {
		t.Errorf("expected displayed after reload, got %s", c.State())
	}
	if view.errs != 1 {
		t.Errorf("expected one error render, got %d", view.errs)
	}
}

func TestReloadBypassesCache(t *testing.T) {
	fetcher := newFakeFetcher()
	c := NewController(fetcher, &recordingView{}, nil, quietOptions())
	ctx := context.Background()

	if err := c.LoadPage(ctx, PageChannels); err != nil {
		t.Fatalf("LoadPage returned error: %v", err)
	}
	if err := c.Reload(ctx); err != nil {
		t.Fatalf("Reload returned error: %v", err)
	}
	if got := fetcher.pages(PageChannels); got != 2 {
		t.Errorf("expected Reload to refetch the fragment, got %d fetches", got)
	}
}

func TestPageForEvent(t *testing.T) {
	tests := []struct {
		kind events.Kind
		page string
	}{
		{events.KindMetrics, PageDashboard},
		{events.KindMessageUpdate, PageMessages},
		{events.KindUserUpdate, PageUsers},
		{events.KindLogUpdate, PageLogs},
		{events.KindChannelUpdate, PageChannels},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			page, ok := PageForEvent(tt.kind)
			if !ok || page != tt.page {
				t.Errorf("PageForEvent(%s) = %q, %v; want %q", tt.kind, page, ok, tt.page)
			}
		})
	}
}

func TestHandleEventRefreshesMatchingPageOnly(t *testing.T) {
	fetcher := newFakeFetcher()
	c := NewController(fetcher, &recordingView{}, nil, quietOptions())
	ctx := context.Background()

	if err := c.LoadPage(ctx, PageMessages); err != nil {
		t.Fatalf("LoadPage returned error: %v", err)
	}
	before := fetcher.data(PageMessages)

	if c.HandleEvent(ctx, events.UserUpdate{UserID: "u1", Action: "joined"}) {
		t.Error("user_update must not refresh the messages page")
	}
	if !c.HandleEvent(ctx, events.MessageUpdate{Content: "hi"}) {
		t.Error("message_update must refresh the messages page")
	}
	if got := fetcher.data(PageMessages) - before; got != 1 {
		t.Errorf("expected one data refresh, got %d", got)
	}
}

func TestSettingsPageIgnoresEvents(t *testing.T) {
	fetcher := newFakeFetcher()
	view := &recordingView{}
	c := NewController(fetcher, view, nil, quietOptions())
	ctx := context.Background()

	if err := c.LoadPage(ctx, PageSettings); err != nil {
		t.Fatalf("LoadPage returned error: %v", err)
	}
	for _, ev := range []events.Event{
		events.Metrics{}, events.UserUpdate{}, events.MessageUpdate{},
		events.LogUpdate{}, events.ChannelUpdate{},
	} {
		if c.HandleEvent(ctx, ev) {
			t.Errorf("%s refreshed the settings page", ev.Kind())
		}
	}
	for _, call := range view.history() {
		if call == "data settings" {
			t.Error("settings has no data to show")
		}
	}
}

func TestUnmountStopsController(t *testing.T) {
	fetcher := newFakeFetcher()
	c := NewController(fetcher, &recordingView{}, nil, quietOptions())
	ctx := context.Background()

	if err := c.LoadPage(ctx, PageDashboard); err != nil {
		t.Fatalf("LoadPage returned error: %v", err)
	}
	c.Unmount()
	if err := c.LoadPage(ctx, PageUsers); !errors.Is(err, ErrUnmounted) {
		t.Errorf("expected ErrUnmounted, got %v", err)
	}
	before := fetcher.data(PageDashboard)
	if c.HandleEvent(ctx, events.Metrics{}) {
		t.Error("an unmounted controller must ignore events")
	}
	_ = c.Refresh(ctx)
	if fetcher.data(PageDashboard) != before {
		t.Error("an unmounted controller must not refresh")
	}
}

type runHarness struct {
	c       *Controller
	fetcher *fakeFetcher
	view    *recordingView
	ticker  *fakeTicker
	source  *fakeSource
	after   *manualAfter
	cancel  context.CancelFunc
	done    chan error
}

func startRun(t *testing.T, page string, setup func(*runHarness, *Options)) *runHarness {
	t.Helper()
	h := &runHarness{
		fetcher: newFakeFetcher(),
		view:    &recordingView{},
		ticker:  &fakeTicker{ch: make(chan time.Time)},
		source:  &fakeSource{streams: make(chan *fakeStream, 4)},
		after:   &manualAfter{fire: make(chan time.Time)},
		done:    make(chan error, 1),
	}
	opts := quietOptions()
	opts.ReconnectDelay = 5 * time.Second
	opts.NewTicker = func(time.Duration) Ticker { return h.ticker }
	opts.After = h.after.After
	if setup != nil {
		setup(h, &opts)
	}
	h.c = NewController(h.fetcher, h.view, h.source, opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.c.Run(ctx, page) }()
	t.Cleanup(h.stop)
	return h
}

func (h *runHarness) stop() {
	h.cancel()
	<-h.done
	h.done <- nil
}

func TestRunPeriodicRefresh(t *testing.T) {
	h := startRun(t, PageDashboard, nil)
	testutil.WaitFor(t, "initial load", func() bool { return h.fetcher.data(PageDashboard) == 1 })

	before := h.fetcher.data(PageDashboard)
	h.ticker.ch <- time.Now()
	h.ticker.ch <- time.Now()
	testutil.WaitFor(t, "two periodic refreshes", func() bool {
		return h.fetcher.data(PageDashboard)-before >= 2
	})
}

func TestRunPushRefresh(t *testing.T) {
	h := startRun(t, PageLogs, nil)
	stream := newFakeStream()
	h.source.streams <- stream
	testutil.WaitFor(t, "initial load", func() bool { return h.fetcher.data(PageLogs) == 1 })

	before := h.fetcher.data(PageLogs)
	stream.events <- events.LogUpdate{Level: "warn", Message: "disk"}
	testutil.WaitFor(t, "push refresh", func() bool { return h.fetcher.data(PageLogs) == before+1 })

	stream.events <- events.Metrics{}
	stream.events <- events.LogUpdate{Level: "error", Message: "again"}
	testutil.WaitFor(t, "second push refresh", func() bool { return h.fetcher.data(PageLogs) == before+2 })
}

func TestRunReconnectsAfterDelay(t *testing.T) {
	h := startRun(t, PageUsers, nil)
	first := newFakeStream()
	h.source.streams <- first
	testutil.WaitFor(t, "first connection", func() bool { return len(h.view.connections()) == 1 })
	testutil.WaitFor(t, "initial load", func() bool { return h.fetcher.data(PageUsers) == 1 })

	close(first.events)
	testutil.WaitFor(t, "reconnect wait", func() bool { return len(h.after.waits()) == 1 })
	if got := h.after.waits()[0]; got != 5*time.Second {
		t.Errorf("expected a 5s reconnect delay, got %s", got)
	}
	if h.source.connects() != 1 {
		t.Fatal("reconnected before the delay elapsed")
	}

	second := newFakeStream()
	h.source.streams <- second
	h.after.fire <- time.Now()
	testutil.WaitFor(t, "second connection", func() bool { return h.source.connects() == 2 })
	testutil.WaitFor(t, "connection shown", func() bool { return len(h.view.connections()) == 3 })

	if got := h.view.connections(); !got[0] || got[1] || !got[2] {
		t.Errorf("connection indicator sequence = %v, want [true false true]", got)
	}

	before := h.fetcher.data(PageUsers)
	second.events <- events.UserUpdate{UserID: "u1", Action: "left"}
	testutil.WaitFor(t, "refresh over new stream", func() bool { return h.fetcher.data(PageUsers) == before+1 })
}

func TestRunUnmountsOnCancel(t *testing.T) {
	h := startRun(t, PageChannels, nil)
	stream := newFakeStream()
	h.source.streams <- stream
	testutil.WaitFor(t, "stream connected", func() bool { return len(h.view.connections()) == 1 })

	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
		h.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if h.c.State() != Unmounted {
		t.Errorf("expected unmounted, got %s", h.c.State())
	}
	select {
	case <-stream.done:
	default:
		t.Error("stream was not closed on unmount")
	}
}

func TestRunRetriesFailedPage(t *testing.T) {
	h := startRun(t, PageMessages, func(h *runHarness, o *Options) {
		o.RetryFailed = true
		h.fetcher.failPages(errors.New("server down"))
	})
	testutil.WaitFor(t, "failed load", func() bool { return h.c.State() == Failed })

	h.ticker.ch <- time.Now()
	testutil.WaitFor(t, "failed retry", func() bool {
		return h.fetcher.pages(PageMessages) == 2 && h.c.State() == Failed
	})

	h.fetcher.failPages(nil)
	h.ticker.ch <- time.Now()
	testutil.WaitFor(t, "recovered", func() bool { return h.c.State() == Displayed })
}
