// Package dashboard implements the admin dashboard controller: it loads page
// fragments through a cache, keeps the displayed page's data fresh from two
// independent triggers (a periodic ticker and pushed hub events) and
// reconnects to the hub's event stream after a fixed delay.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chathub/internal/events"
)

// Page ids served by the admin surface.
const (
	PageDashboard = "dashboard"
	PageMessages  = "messages"
	PageUsers     = "users"
	PageLogs      = "logs"
	PageChannels  = "channels"
	PageSettings  = "settings"
)

// ErrUnmounted is returned by operations on an unmounted controller.
var ErrUnmounted = errors.New("dashboard: controller unmounted")

// State is the lifecycle state of the controller's page view.
type State int

// Controller states.
const (
	Uninitialized State = iota
	Loading
	Displayed
	Refreshing
	Failed
	Unmounted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Displayed:
		return "displayed"
	case Refreshing:
		return "refreshing"
	case Failed:
		return "failed"
	case Unmounted:
		return "unmounted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PageForEvent returns the page whose data an event of kind k refreshes.
// The settings page has no event.
func PageForEvent(k events.Kind) (string, bool) {
	switch k {
	case events.KindMetrics:
		return PageDashboard, true
	case events.KindMessageUpdate:
		return PageMessages, true
	case events.KindUserUpdate:
		return PageUsers, true
	case events.KindLogUpdate:
		return PageLogs, true
	case events.KindChannelUpdate:
		return PageChannels, true
	default:
		return "", false
	}
}

// Fetcher loads page fragments and data snapshots.
type Fetcher interface {
	FetchPage(ctx context.Context, page string) (string, error)
	// FetchData returns the page's data snapshot, or nil for pages without data.
	FetchData(ctx context.Context, page string) (json.RawMessage, error)
}

// View renders controller output. ShowConnection is called from the event
// stream goroutine, concurrently with the other methods.
type View interface {
	ShowLoading(page string)
	ShowPage(page, html string)
	ShowData(page string, data json.RawMessage)
	// ShowError renders the retry affordance for a failed page load.
	ShowError(page string, err error)
	ShowConnection(connected bool)
}

// Stream is a live sequence of hub events.
type Stream interface {
	Next() (events.Event, error)
	Close() error
}

// EventSource opens event streams.
type EventSource interface {
	Connect(ctx context.Context) (Stream, error)
}

// Ticker drives the periodic refresh trigger.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker returns a Ticker backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Options configures a Controller.
type Options struct {
	RefreshInterval time.Duration
	ReconnectDelay  time.Duration
	// RetryFailed reloads a failed page on every periodic tick.
	RetryFailed bool
	NewTicker   func(time.Duration) Ticker
	After       func(time.Duration) <-chan time.Time
	Now         func() time.Time
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 5 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.NewTicker == nil {
		o.NewTicker = NewTimeTicker
	}
	if o.After == nil {
		o.After = time.After
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Controller is the state machine behind one dashboard page view:
// Uninitialized, Loading, Displayed and Refreshing until Unmounted, with
// Failed standing in for Loading when a page fetch fails.
type Controller struct {
	fetcher Fetcher
	view    View
	source  EventSource
	cache   *PageCache
	opts    Options
	log     *slog.Logger

	mu    sync.Mutex
	state State
	page  string
}

// NewController returns an Uninitialized controller. source may be nil, in
// which case the periodic trigger is the only source of freshness.
func NewController(fetcher Fetcher, view View, source EventSource, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		fetcher: fetcher,
		view:    view,
		source:  source,
		cache:   NewPageCache(),
		opts:    opts,
		log:     opts.Logger.With("component", "dashboard"),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Page returns the current page id.
func (c *Controller) Page() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Cache returns the controller's page cache.
func (c *Controller) Cache() *PageCache {
	return c.cache
}

// current reports whether page is still the one being shown and the
// controller has not been unmounted.
func (c *Controller) current(page string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page == page && c.state != Unmounted
}

func (c *Controller) setState(page string, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page != page || c.state == Unmounted {
		return false
	}
	c.state = s
	return true
}

// LoadPage shows page. A cached fragment is displayed at once and followed
// by a data refresh; otherwise the fragment is fetched first. A failed fetch
// leaves the controller Failed with the retry affordance shown.
func (c *Controller) LoadPage(ctx context.Context, page string) error {
	c.mu.Lock()
	if c.state == Unmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	c.page = page
	entry, cached := c.cache.Get(page)
	if cached {
		c.state = Displayed
	} else {
		c.state = Loading
	}
	c.mu.Unlock()

	if cached {
		c.view.ShowPage(page, entry.HTML)
		return c.Refresh(ctx)
	}

	c.view.ShowLoading(page)
	html, err := c.fetcher.FetchPage(ctx, page)
	if err != nil {
		if c.setState(page, Failed) {
			c.log.Warn("page load failed", "page", page, "error", err)
			c.view.ShowError(page, err)
		}
		return err
	}

	c.cache.Put(PageCacheEntry{Page: page, HTML: html, LoadedAt: c.opts.Now()})
	if !c.setState(page, Displayed) {
		return nil
	}
	c.view.ShowPage(page, html)
	return c.Refresh(ctx)
}

// Reload drops the current page from the cache and loads it again.
func (c *Controller) Reload(ctx context.Context) error {
	page := c.Page()
	if page == "" {
		return nil
	}
	c.cache.Invalidate(page)
	return c.LoadPage(ctx, page)
}

// Refresh re-fetches the displayed page's data snapshot and updates only the
// data regions. It does nothing unless a page is Displayed.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Displayed {
		c.mu.Unlock()
		return nil
	}
	page := c.page
	c.state = Refreshing
	c.mu.Unlock()

	data, err := c.fetcher.FetchData(ctx, page)
	if !c.setState(page, Displayed) {
		return nil
	}
	if err != nil {
		c.log.Info("data refresh failed", "page", page, "error", err)
		return err
	}
	if data != nil {
		c.view.ShowData(page, data)
	}
	return nil
}

// HandleEvent refreshes the displayed page when ev is mapped to it. It
// reports whether a refresh was triggered.
func (c *Controller) HandleEvent(ctx context.Context, ev events.Event) bool {
	target, ok := PageForEvent(ev.Kind())
	if !ok {
		return false
	}
	c.mu.Lock()
	match := c.page == target && c.state == Displayed
	c.mu.Unlock()
	if !match {
		return false
	}
	if err := c.Refresh(ctx); err != nil {
		c.log.Debug("event refresh failed", "page", target, "type", ev.Kind().String(), "error", err)
	}
	return true
}

// Unmount ends the page view. Later operations return ErrUnmounted or do
// nothing.
func (c *Controller) Unmount() {
	c.mu.Lock()
	c.state = Unmounted
	c.mu.Unlock()
}

// Run loads page and then serializes the periodic and push triggers into
// refreshes until ctx is cancelled, reconnecting to the event source after
// the reconnect delay whenever its stream ends.
func (c *Controller) Run(ctx context.Context, page string) error {
	if err := c.LoadPage(ctx, page); errors.Is(err, ErrUnmounted) {
		return err
	}

	ticker := c.opts.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	evCh := make(chan events.Event)
	var wg sync.WaitGroup
	if c.source != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.stream(ctx, evCh)
		}()
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.Unmount()
			return nil
		case <-ticker.C():
			c.tick(ctx)
		case ev := <-evCh:
			c.HandleEvent(ctx, ev)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	if c.opts.RetryFailed && c.State() == Failed {
		_ = c.Reload(ctx)
		return
	}
	if err := c.Refresh(ctx); err != nil {
		c.log.Debug("periodic refresh failed", "error", err)
	}
}

// stream forwards events from the source to out, reconnecting forever.
func (c *Controller) stream(ctx context.Context, out chan<- events.Event) {
	for {
		stream, err := c.source.Connect(ctx)
		if err != nil {
			c.log.Info("event stream connect failed", "error", err, "retry_in", c.opts.ReconnectDelay)
		} else {
			c.view.ShowConnection(true)
			c.consume(ctx, stream, out)
			c.view.ShowConnection(false)
			c.log.Info("event stream closed", "retry_in", c.opts.ReconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.opts.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Controller) consume(ctx context.Context, stream Stream, out chan<- events.Event) {
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer func() {
		stop()
		_ = stream.Close()
	}()

	for {
		ev, err := stream.Next()
		if err != nil {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
