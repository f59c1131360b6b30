// Package viewer implements the view controller: the state machine that
// fetches a document, fits its first page into a container, paints it and
// keeps the toolbar and print guard in step with the configuration.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	verrors "github.com/AOShei/pdf-viewer/pkg/errors"
	"github.com/AOShei/pdf-viewer/pkg/fetch"
	"github.com/AOShei/pdf-viewer/pkg/fit"
	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/observability"
	"github.com/AOShei/pdf-viewer/pkg/render"
)

// State is the controller's display state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateRendered
	StateError
	StateNotConfigured
	StateTornDown
)

var stateNames = [...]string{"idle", "loading", "rendered", "error", "not_configured", "torn_down"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	MsgNotConfigured = "Document source is not configured."
	MsgLoading       = "Loading document..."
)

var (
	ErrNotStarted     = errors.New("viewer: not started")
	ErrAlreadyStarted = errors.New("viewer: already started")
	ErrTornDown       = errors.New("viewer: torn down")
	// ErrSuperseded is returned by a pass whose result was discarded because a
	// newer configuration or a teardown arrived first.
	ErrSuperseded = errors.New("viewer: superseded by a newer configuration")
)

// Fetcher retrieves document bytes.
type Fetcher interface {
	FetchDocument(ctx context.Context, loc model.Locator) ([]byte, error)
}

// View is what the container paints. Surface is set only in StateRendered;
// Message is set in every other state but idle.
type View struct {
	State   State
	Surface *render.Surface
	Toolbar model.ToolbarState
	Message string
}

// Container is the paint target. Present is called with the controller's
// locks held: it must not call back into the controller, and it must copy
// what it needs from the surface before returning.
type Container interface {
	Size() model.Size
	Present(View)
}

// ResizeObserver delivers container sizes until ctx is done.
type ResizeObserver interface {
	Observe(ctx context.Context) <-chan model.Size
}

// Options wires a Controller to its collaborators. Fetcher, Decoder and
// Container are required.
type Options struct {
	Fetcher   Fetcher
	Decoder   render.Decoder
	Container Container

	Resize ResizeObserver
	// ResizeDebounce delays re-layout until resize events pause for this long.
	// Zero only coalesces events that are already queued.
	ResizeDebounce time.Duration

	// Keyboard receives the print guard. A private one is used when nil.
	Keyboard  *Keyboard
	Resources ResourceHost
	Printer   Printer
	Logger    *zap.Logger
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	State      State
	Generation uint64
	Config     model.ViewConfiguration
	// Policy is the policy in effect, FitWidth after a zoom gesture.
	Policy      model.FitPolicy
	Message     string
	Toolbar     model.ToolbarState
	Render      model.RenderState
	DisplayW    int
	DisplayH    int
	PayloadSize int
}

// Controller drives one view. All methods are safe for concurrent use.
//
// Every configuration bumps the generation. Fetch, decode and render results
// commit only while their generation is current and the controller is alive.
// renderMu serializes rasterization and surface mutation; mu guards the
// fields below it. Lock order is renderMu, then mu.
type Controller struct {
	opts  Options
	log   *zap.Logger
	guard *PrintGuard

	renderMu sync.Mutex

	mu          sync.Mutex
	started     bool
	alive       bool
	state       State
	generation  uint64
	cfg         model.ViewConfiguration
	policy      model.FitPolicy
	payload     []byte
	doc         render.Document
	surface     *render.Surface
	toolbar     model.ToolbarState
	message     string
	cancelFetch context.CancelFunc
	stopResize  context.CancelFunc
	resizeDone  chan struct{}
}

// New returns an idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Fetcher == nil || opts.Decoder == nil || opts.Container == nil {
		return nil, errors.New("viewer: Fetcher, Decoder and Container are required")
	}
	if opts.Keyboard == nil {
		opts.Keyboard = NewKeyboard()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		opts:  opts,
		log:   log,
		guard: NewPrintGuard(opts.Keyboard),
		state: StateIdle,
	}, nil
}

// Start subscribes to resize events and runs the first update with cfg,
// which installs the print guard.
func (c *Controller) Start(ctx context.Context, cfg model.ViewConfiguration) error {
	c.mu.Lock()
	switch {
	case c.state == StateTornDown:
		c.mu.Unlock()
		return ErrTornDown
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.alive = true

	if c.opts.Resize != nil {
		rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.stopResize = cancel
		c.resizeDone = make(chan struct{})
		go c.watchResize(rctx, c.opts.Resize.Observe(rctx), c.resizeDone)
	}
	c.mu.Unlock()

	c.log.Debug("viewer started", zap.Bool("resize_observer", c.opts.Resize != nil))
	return c.Update(ctx, cfg)
}

// Update applies a new configuration and returns once its render pass has
// settled. A complete locator always triggers a fetch. The returned error is
// informational: failures are already shown in the container.
func (c *Controller) Update(ctx context.Context, cfg model.ViewConfiguration) error {
	ctx, span := observability.Tracer().Start(ctx, "viewer.update")
	defer span.End()

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.generation++
	gen := c.generation
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	if cfg.AllowPrint != c.cfg.AllowPrint || !c.guard.Active() {
		c.guard.Install(cfg.AllowPrint)
	}
	c.cfg = cfg
	c.policy = cfg.FitPolicy
	span.SetAttributes(attribute.Int64("viewer.generation", int64(gen)))
	log := observability.FromContext(ctx, c.log).With(zap.Uint64("generation", gen))

	if !cfg.Locator.Complete() {
		c.mu.Unlock()
		return c.showNotConfigured(gen, log)
	}

	fctx, cancel := context.WithCancel(ctx)
	c.cancelFetch = cancel
	c.toolbar = NewToolbarState(cfg, false)
	c.setStateLocked(StateLoading, MsgLoading, log)
	c.mu.Unlock()
	defer cancel()

	payload, err := c.opts.Fetcher.FetchDocument(fctx, cfg.Locator)
	if err != nil {
		if !verrors.IsFetchFailure(err) && !fetch.IsCanceled(err) {
			err = verrors.Wrap(verrors.CodeNetwork, err, "fetch failed")
		}
		return c.fail(span, gen, fmt.Sprintf("Failed to load document: %v", err), err, log)
	}
	if !c.current(gen) {
		return ErrSuperseded
	}

	doc, err := c.opts.Decoder.Decode(fctx, payload)
	if err != nil {
		return c.fail(span, gen, fmt.Sprintf("Failed to render document: %v", err), err, log)
	}
	return c.finish(fctx, span, gen, payload, doc, log)
}

func (c *Controller) showNotConfigured(gen uint64, log *zap.Logger) error {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || gen != c.generation {
		return ErrSuperseded
	}
	c.releaseLocked()
	c.toolbar = NewToolbarState(c.cfg, false)
	c.setStateLocked(StateNotConfigured, MsgNotConfigured, log)
	return nil
}

// finish lays out and rasterizes doc, then commits it if gen is still current.
func (c *Controller) finish(ctx context.Context, span trace.Span, gen uint64, payload []byte, doc render.Document, log *zap.Logger) error {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	if !c.alive || gen != c.generation {
		c.mu.Unlock()
		doc.Close()
		return ErrSuperseded
	}
	policy := c.policy
	c.mu.Unlock()

	surface, err := c.paint(ctx, doc, c.opts.Container.Size(), policy)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || gen != c.generation {
		doc.Close()
		return ErrSuperseded
	}
	if err != nil {
		doc.Close()
		c.failLocked(span, fmt.Sprintf("Failed to render document: %v", err), err, log)
		return err
	}

	c.releaseLocked()
	c.payload = payload
	c.doc = doc
	c.surface = surface
	c.toolbar = NewToolbarState(c.cfg, true)
	st := surface.State()
	log.Debug("surface painted",
		zap.Float64("scale", st.Scale),
		zap.Int("width", st.SurfaceWidth),
		zap.Int("height", st.SurfaceHeight))
	c.setStateLocked(StateRendered, "", log)
	return nil
}

// paint runs one render pass. The caller holds renderMu.
func (c *Controller) paint(ctx context.Context, doc render.Document, size model.Size, policy model.FitPolicy) (*render.Surface, error) {
	st, err := fit.Layout(size, doc.Geometry(), policy)
	if err != nil {
		return nil, err
	}
	raster, err := doc.Render(ctx, st)
	if err != nil {
		return nil, err
	}
	return render.NewSurface(raster, st), nil
}

func (c *Controller) fail(span trace.Span, gen uint64, msg string, err error, log *zap.Logger) error {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || gen != c.generation {
		return ErrSuperseded
	}
	c.failLocked(span, msg, err, log)
	return err
}

func (c *Controller) failLocked(span trace.Span, msg string, err error, log *zap.Logger) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(verrors.CodeOf(err)))
	log.Warn("render pass failed", zap.String("code", string(verrors.CodeOf(err))), zap.Error(err))
	c.releaseLocked()
	c.toolbar = NewToolbarState(c.cfg, false)
	c.setStateLocked(StateError, msg, log)
}

// releaseLocked drops the payload, the decoded document and the surface.
// The caller holds renderMu and mu.
func (c *Controller) releaseLocked() {
	if c.doc != nil {
		if err := c.doc.Close(); err != nil {
			c.log.Debug("closing document", zap.Error(err))
		}
	}
	c.payload = nil
	c.doc = nil
	c.surface = nil
}

func (c *Controller) setStateLocked(st State, msg string, log *zap.Logger) {
	if c.state != st {
		log.Debug("state transition", zap.Stringer("from", c.state), zap.Stringer("to", st))
	}
	c.state = st
	c.message = msg
	c.presentLocked()
}

func (c *Controller) presentLocked() {
	v := View{State: c.state, Toolbar: c.toolbar, Message: c.message}
	if c.state == StateRendered {
		v.Surface = c.surface
	}
	c.opts.Container.Present(v)
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive && gen == c.generation
}

func (c *Controller) usableLocked() error {
	switch {
	case c.state == StateTornDown:
		return ErrTornDown
	case !c.started:
		return ErrNotStarted
	}
	return nil
}

// Resize re-lays out the rendered document for a container of size, using
// the policy in effect. It never fetches or decodes. Outside StateRendered it
// does nothing; the next render pass reads the container size itself. A
// failed pass leaves the current surface in place.
func (c *Controller) Resize(ctx context.Context, size model.Size) error {
	ctx, span := observability.Tracer().Start(ctx, "viewer.resize")
	defer span.End()

	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	if !c.alive || c.state != StateRendered {
		c.mu.Unlock()
		return nil
	}
	gen, doc, policy := c.generation, c.doc, c.policy
	c.mu.Unlock()

	log := observability.FromContext(ctx, c.log).With(zap.Uint64("generation", gen))
	surface, err := c.paint(ctx, doc, size, policy)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || gen != c.generation {
		return ErrSuperseded
	}
	if err != nil {
		span.RecordError(err)
		log.Warn("resize pass failed, keeping current surface",
			zap.Float64("width", size.Width), zap.Float64("height", size.Height), zap.Error(err))
		return err
	}
	c.surface = surface
	log.Debug("surface resized", zap.Float64("scale", surface.State().Scale), zap.String("policy", string(policy)))
	c.presentLocked()
	return nil
}

func (c *Controller) watchResize(ctx context.Context, events <-chan model.Size, done chan<- struct{}) {
	defer close(done)
	for {
		var size model.Size
		select {
		case <-ctx.Done():
			return
		case s, ok := <-events:
			if !ok {
				return
			}
			size = s
		}

		size, ok := c.coalesce(ctx, events, size)
		if !ok {
			return
		}
		if err := c.Resize(ctx, size); err != nil && !errors.Is(err, ErrSuperseded) {
			c.log.Debug("resize", zap.Error(err))
		}
	}
}

// coalesce keeps the latest of the events arriving within the debounce
// window, or of those already queued when there is none. It reports false
// once the subscription is over.
func (c *Controller) coalesce(ctx context.Context, events <-chan model.Size, size model.Size) (model.Size, bool) {
	if c.opts.ResizeDebounce <= 0 {
		for {
			select {
			case s, ok := <-events:
				if !ok {
					return size, false
				}
				size = s
			default:
				return size, true
			}
		}
	}

	timer := time.NewTimer(c.opts.ResizeDebounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return size, false
		case s, ok := <-events:
			if !ok {
				return size, false
			}
			size = s
			timer.Reset(c.opts.ResizeDebounce)
		case <-timer.C:
			return size, true
		}
	}
}

// Invoke runs a toolbar action. Disabled actions return ErrActionDisabled.
func (c *Controller) Invoke(ctx context.Context, a Action) error {
	switch a {
	case ActionZoomIn:
		return c.zoom(a, ZoomStep)
	case ActionZoomOut:
		return c.zoom(a, 1/ZoomStep)
	case ActionDownload:
		return c.download(ctx)
	case ActionPrint:
		return c.print(ctx)
	case ActionPrev, ActionNext:
		return ErrActionDisabled
	}
	return fmt.Errorf("unknown action %v", a)
}

// zoom scales the displayed surface and switches the session to FitWidth
// until the next configuration.
func (c *Controller) zoom(a Action, factor float64) error {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	if !enabled(c.toolbar, a) || c.state != StateRendered {
		return ErrActionDisabled
	}
	c.surface.Zoom(factor)
	c.policy = model.FitWidth
	w, h := c.surface.DisplaySize()
	c.log.Debug("zoom", zap.Uint64("generation", c.generation), zap.Float64("factor", factor), zap.Int("width", w), zap.Int("height", h))
	c.presentLocked()
	return nil
}

func (c *Controller) download(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if !enabled(c.toolbar, ActionDownload) || c.payload == nil {
		c.mu.Unlock()
		return ErrActionDisabled
	}
	payload := c.payload
	c.mu.Unlock()

	if c.opts.Resources == nil {
		return ErrUnavailable
	}
	return download(ctx, c.opts.Resources, payload)
}

func (c *Controller) print(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if !enabled(c.toolbar, ActionPrint) || c.surface == nil {
		c.mu.Unlock()
		return ErrActionDisabled
	}
	surface := *c.surface
	c.mu.Unlock()

	if c.opts.Printer == nil {
		return ErrUnavailable
	}
	return c.opts.Printer.Print(ctx, &surface)
}

// Teardown cancels the resize subscription and any fetch in flight, revokes
// the print guard and releases the document. Later completions are no-ops.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return
	}
	c.alive = false
	c.generation++
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	stop, done := c.stopResize, c.resizeDone
	c.stopResize, c.resizeDone = nil, nil
	c.guard.Revoke()
	c.state = StateTornDown
	c.message = ""
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	c.renderMu.Lock()
	c.mu.Lock()
	c.releaseLocked()
	c.mu.Unlock()
	c.renderMu.Unlock()
	c.log.Debug("viewer torn down")
}

// State returns a snapshot of the controller.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:       c.state,
		Generation:  c.generation,
		Config:      c.cfg,
		Policy:      c.policy,
		Message:     c.message,
		Toolbar:     c.toolbar,
		PayloadSize: len(c.payload),
	}
	if c.surface != nil {
		s.Render = c.surface.State()
		s.DisplayW, s.DisplayH = c.surface.DisplaySize()
	}
	return s
}

// PrintGuardActive reports whether the print interceptor is installed.
func (c *Controller) PrintGuardActive() bool {
	return c.guard.Active()
}
