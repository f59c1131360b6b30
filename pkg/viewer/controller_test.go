package viewer_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	verrors "github.com/AOShei/pdf-viewer/pkg/errors"
	"github.com/AOShei/pdf-viewer/pkg/fit"
	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/viewer"
)

var letter = model.PageGeometry{Width: 612, Height: 792}

func mustLayout(t *testing.T, size model.Size, page model.PageGeometry, policy model.FitPolicy) model.RenderState {
	t.Helper()
	st, err := fit.Layout(size, page, policy)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestStartRendersFirstPage(t *testing.T) {
	for _, policy := range []model.FitPolicy{model.FitAuto, model.FitPage, model.FitWidth} {
		t.Run(string(policy), func(t *testing.T) {
			h := newHarness(t, nil)
			cfg := config("letter")
			cfg.FitPolicy = policy
			cfg.AllowDownload = true

			if err := h.ctrl.Start(context.Background(), cfg); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			snap := h.ctrl.State()
			if snap.State != viewer.StateRendered {
				t.Fatalf("state = %v (%s), want rendered", snap.State, snap.Message)
			}
			want := mustLayout(t, model.Size{Width: 800, Height: 600}, letter, policy)
			if diff := cmp.Diff(want, snap.Render); diff != "" {
				t.Errorf("render state (-want +got):\n%s", diff)
			}
			if snap.DisplayW != want.SurfaceWidth || snap.DisplayH != want.SurfaceHeight {
				t.Errorf("display = %dx%d, want %dx%d", snap.DisplayW, snap.DisplayH, want.SurfaceWidth, want.SurfaceHeight)
			}

			wantToolbar := model.ToolbarState{Visible: true, ZoomIn: true, ZoomOut: true, Download: true}
			if diff := cmp.Diff(wantToolbar, snap.Toolbar); diff != "" {
				t.Errorf("toolbar (-want +got):\n%s", diff)
			}
			if last := h.container.Last(); last.State != viewer.StateRendered || last.Render != want {
				t.Errorf("last frame = %+v", last)
			}
		})
	}
}

func TestAutoMatchesPage(t *testing.T) {
	var states []model.RenderState
	for _, policy := range []model.FitPolicy{model.FitAuto, model.FitPage} {
		h := newHarness(t, nil)
		h.container.SetSize(1000, 300)
		cfg := config("landscape")
		cfg.FitPolicy = policy
		h.ctrl.Start(context.Background(), cfg)
		states = append(states, h.ctrl.State().Render)
	}
	if states[0] != states[1] {
		t.Errorf("auto %+v differs from page %+v", states[0], states[1])
	}
}

func TestIdempotentRefetch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	cfg := config("letter")

	if err := h.ctrl.Start(ctx, cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.ctrl.Update(ctx, cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if n := h.fetcher.Calls(); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}
	if n := h.engine.Renders(); n != 2 {
		t.Errorf("render passes = %d, want 2", n)
	}
	if s := h.ctrl.State(); s.State != viewer.StateRendered || s.Generation != 2 {
		t.Errorf("state = %v generation %d", s.State, s.Generation)
	}
	if n := h.engine.OpenDocuments(); n != 1 {
		t.Errorf("%d documents open, want only the current one", n)
	}
}

func TestStaleCompletionIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.fetcher.hook = func(ctx context.Context, loc model.Locator) error {
		if loc.RecordID == "letter" {
			close(started)
			<-release
		}
		return nil
	}

	if err := h.ctrl.Start(ctx, config("")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Update(ctx, config("letter")) }()
	<-started

	if err := h.ctrl.Update(ctx, config("a4")); err != nil {
		t.Fatalf("Update(B) error = %v", err)
	}
	want := mustLayout(t, model.Size{Width: 800, Height: 600}, model.PageGeometry{Width: 595, Height: 842}, model.FitAuto)
	if got := h.ctrl.State().Render; got != want {
		t.Fatalf("after B render = %+v, want %+v", got, want)
	}
	framesAfterB := h.container.Frames()

	close(release)
	if err := <-done; !errors.Is(err, viewer.ErrSuperseded) {
		t.Errorf("Update(A) error = %v, want ErrSuperseded", err)
	}

	snap := h.ctrl.State()
	if snap.State != viewer.StateRendered || snap.Render != want || snap.Config.Locator.RecordID != "a4" {
		t.Errorf("end state = %+v, want B rendered", snap)
	}
	if n := h.container.Frames(); n != framesAfterB {
		t.Errorf("stale completion painted %d frames", n-framesAfterB)
	}
	if n := h.engine.OpenDocuments(); n != 1 {
		t.Errorf("%d documents open, want 1", n)
	}
}

func TestIncompleteLocator(t *testing.T) {
	h := newHarness(t, nil)
	cfg := model.DefaultViewConfiguration()
	cfg.Locator = model.Locator{Collection: "invoice", RecordID: "", Field: "pdfBlob"}

	if err := h.ctrl.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if n := h.fetcher.Calls(); n != 0 {
		t.Errorf("fetch calls = %d, want 0", n)
	}
	snap := h.ctrl.State()
	if snap.State != viewer.StateNotConfigured || snap.Message != viewer.MsgNotConfigured {
		t.Errorf("state = %v %q", snap.State, snap.Message)
	}
	if last := h.container.Last(); last.Message != viewer.MsgNotConfigured || last.Render != (model.RenderState{}) {
		t.Errorf("last frame = %+v", last)
	}
}

func TestNotConfiguredDropsPreviousDocument(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ctrl.Start(ctx, config("letter"))
	h.ctrl.Update(ctx, config("  "))

	snap := h.ctrl.State()
	if snap.State != viewer.StateNotConfigured || snap.PayloadSize != 0 || snap.Render != (model.RenderState{}) {
		t.Errorf("state = %+v", snap)
	}
	if n := h.engine.OpenDocuments(); n != 0 {
		t.Errorf("%d documents left open", n)
	}
}

func TestFailures(t *testing.T) {
	tests := []struct {
		name   string
		record string
		setup  func(*harness)
		prefix string
		code   verrors.Code
	}{
		{
			name:   "auth",
			record: "letter",
			setup: func(h *harness) {
				h.fetcher.err = verrors.New(verrors.CodeAuth, "access denied").WithStatus(401)
			},
			prefix: "Failed to load document: access denied (status 401)",
			code:   verrors.CodeAuth,
		},
		{
			name:   "unknown fetch error",
			record: "missing",
			prefix: "Failed to load document:",
			code:   verrors.CodeNetwork,
		},
		{
			name:   "deadline exceeded",
			record: "letter",
			setup: func(h *harness) {
				h.fetcher.err = fmt.Errorf("fetching: %w", context.DeadlineExceeded)
			},
			prefix: "Failed to load document: fetching: context deadline exceeded",
		},
		{
			name:   "not a pdf",
			record: "html",
			prefix: "Failed to render document:",
			code:   verrors.CodeDecode,
		},
		{
			name:   "collapsed container",
			record: "letter",
			setup:  func(h *harness) { h.container.SetSize(0, 0) },
			prefix: "Failed to render document:",
			code:   verrors.CodeInvalidGeometry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if tt.setup != nil {
				tt.setup(h)
			}
			err := h.ctrl.Start(context.Background(), config(tt.record))
			if got := verrors.CodeOf(err); got != tt.code {
				t.Errorf("error code = %q (%v), want %q", got, err, tt.code)
			}

			snap := h.ctrl.State()
			if snap.State != viewer.StateError {
				t.Fatalf("state = %v, want error", snap.State)
			}
			if !strings.HasPrefix(snap.Message, tt.prefix) {
				t.Errorf("message = %q, want prefix %q", snap.Message, tt.prefix)
			}
			if snap.PayloadSize != 0 || snap.Render != (model.RenderState{}) {
				t.Errorf("failure kept payload %d or surface %+v", snap.PayloadSize, snap.Render)
			}
			if snap.Toolbar.ZoomIn || snap.Toolbar.ZoomOut {
				t.Error("zoom enabled without a surface")
			}
			if err := h.ctrl.Invoke(context.Background(), viewer.ActionZoomIn); !errors.Is(err, viewer.ErrActionDisabled) {
				t.Errorf("zoom in error state = %v", err)
			}
		})
	}
}

func TestRecoveryAfterError(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ctrl.Start(ctx, config("html"))
	if h.ctrl.State().State != viewer.StateError {
		t.Fatal("expected error state")
	}
	if err := h.ctrl.Update(ctx, config("letter")); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if s := h.ctrl.State(); s.State != viewer.StateRendered || s.Message != "" {
		t.Errorf("state = %v %q", s.State, s.Message)
	}
}

func TestZoomPersistsAcrossResize(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.container.SetSize(1000, 500)
	cfg := config("letter")
	cfg.FitPolicy = model.FitPage
	h.ctrl.Start(ctx, cfg)

	before := h.ctrl.State()
	if err := h.ctrl.Invoke(ctx, viewer.ActionZoomIn); err != nil {
		t.Fatalf("zoom in: %v", err)
	}
	zoomed := h.ctrl.State()
	if zoomed.Render != before.Render {
		t.Error("zoom re-rendered the raster")
	}
	if zoomed.DisplayW <= before.DisplayW || zoomed.Policy != model.FitWidth {
		t.Errorf("after zoom display %dx%d policy %s", zoomed.DisplayW, zoomed.DisplayH, zoomed.Policy)
	}
	if n := h.engine.Renders(); n != 1 {
		t.Errorf("zoom caused %d renders", n)
	}

	size := model.Size{Width: 700, Height: 500}
	if err := h.ctrl.Resize(ctx, size); err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	want := mustLayout(t, size, letter, model.FitWidth)
	if got := h.ctrl.State().Render; got != want {
		t.Errorf("after resize render = %+v, want width fit %+v", got, want)
	}
	if n := h.fetcher.Calls(); n != 1 {
		t.Errorf("resize fetched: %d calls", n)
	}

	h.ctrl.Update(ctx, cfg)
	if p := h.ctrl.State().Policy; p != model.FitPage {
		t.Errorf("policy after new configuration = %s, want page", p)
	}
}

func TestZoomOut(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ctrl.Start(ctx, config("letter"))
	before := h.ctrl.State()

	h.ctrl.Invoke(ctx, viewer.ActionZoomIn)
	h.ctrl.Invoke(ctx, viewer.ActionZoomOut)
	h.ctrl.Invoke(ctx, viewer.ActionZoomOut)

	after := h.ctrl.State()
	wantW := float64(before.DisplayW) / 1.1
	if d := float64(after.DisplayW) - wantW; d > 1 || d < -1 {
		t.Errorf("display width = %d, want about %.1f", after.DisplayW, wantW)
	}
}

func TestResizeFailureKeepsSurface(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ctrl.Start(ctx, config("letter"))
	before := h.ctrl.State()

	err := h.ctrl.Resize(ctx, model.Size{Width: 0, Height: 600})
	if !errors.Is(err, verrors.ErrInvalidGeometry) {
		t.Errorf("Resize() error = %v, want INVALID_GEOMETRY", err)
	}
	if after := h.ctrl.State(); after.State != viewer.StateRendered || after.Render != before.Render {
		t.Errorf("failed resize changed state to %+v", after)
	}
}

func TestResizeOutsideRenderedIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ctrl.Start(ctx, config("html"))
	frames := h.container.Frames()
	if err := h.ctrl.Resize(ctx, model.Size{Width: 300, Height: 300}); err != nil {
		t.Errorf("Resize() error = %v", err)
	}
	if h.container.Frames() != frames {
		t.Error("resize painted in error state")
	}
}

func TestResizeObserver(t *testing.T) {
	obs := &observer{events: make(chan model.Size, 8)}
	h := newHarness(t, func(o *viewer.Options) { o.Resize = obs })
	ctx := context.Background()
	h.ctrl.Start(ctx, config("letter"))

	final := model.Size{Width: 400, Height: 900}
	obs.events <- model.Size{Width: 100, Height: 100}
	obs.events <- model.Size{Width: 200, Height: 200}
	obs.events <- final

	want := mustLayout(t, final, letter, model.FitAuto)
	eventually(t, func() bool { return h.ctrl.State().Render == want })
	if n := h.fetcher.Calls(); n != 1 {
		t.Errorf("resizes fetched: %d calls", n)
	}
	if n := h.engine.Opens(); n != 1 {
		t.Errorf("resizes decoded: %d opens", n)
	}

	h.ctrl.Teardown()
	// the subscription is gone; a late event must not be consumed
	obs.events <- model.Size{Width: 50, Height: 50}
	if got := len(obs.events); got != 1 {
		t.Errorf("events pending after teardown = %d, want 1", got)
	}
}

func TestTeardownDuringFetch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	started := make(chan struct{})
	h.fetcher.hook = func(ctx context.Context, loc model.Locator) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Start(ctx, config("letter")) }()
	<-started
	frames := h.container.Frames()

	h.ctrl.Teardown()
	if err := <-done; !errors.Is(err, viewer.ErrSuperseded) {
		t.Errorf("Start() error = %v, want ErrSuperseded", err)
	}
	if s := h.ctrl.State(); s.State != viewer.StateTornDown {
		t.Errorf("state = %v, want torn down", s.State)
	}
	if h.container.Frames() != frames {
		t.Error("completion painted after teardown")
	}
	if h.ctrl.PrintGuardActive() || h.keyboard.Len() != 0 {
		t.Error("print guard survived teardown")
	}
	if err := h.ctrl.Update(ctx, config("letter")); !errors.Is(err, viewer.ErrTornDown) {
		t.Errorf("Update after teardown = %v", err)
	}
	if err := h.ctrl.Resize(ctx, model.Size{Width: 10, Height: 10}); err != nil {
		t.Errorf("Resize after teardown = %v", err)
	}
	h.ctrl.Teardown()
}

func TestTeardownReleasesDocument(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.Start(context.Background(), config("letter"))
	h.ctrl.Teardown()
	if n := h.engine.OpenDocuments(); n != 0 {
		t.Errorf("%d documents open after teardown", n)
	}
	if s := h.ctrl.State(); s.PayloadSize != 0 {
		t.Errorf("payload of %d bytes retained", s.PayloadSize)
	}
}

func TestPrintGuardToggling(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	cfg := config("letter")

	h.ctrl.Start(ctx, cfg)
	if !h.keyboard.Dispatch(ctrlP()) {
		t.Error("Ctrl+P not suppressed with allowPrint=false")
	}
	if n := h.keyboard.Len(); n != 1 {
		t.Errorf("%d interceptors, want 1", n)
	}

	cfg.AllowPrint = true
	h.ctrl.Update(ctx, cfg)
	if h.keyboard.Dispatch(ctrlP()) {
		t.Error("Ctrl+P suppressed with allowPrint=true")
	}
	if n := h.keyboard.Len(); n != 1 {
		t.Errorf("%d interceptors after toggle, want 1", n)
	}

	cfg.AllowPrint = false
	h.ctrl.Update(ctx, cfg)
	h.ctrl.Update(ctx, cfg)
	if !h.keyboard.Dispatch(&viewer.KeyEvent{Key: "P", Meta: true}) {
		t.Error("Cmd+P not suppressed")
	}
	if h.keyboard.Dispatch(&viewer.KeyEvent{Key: "p"}) {
		t.Error("plain p suppressed")
	}
	if n := h.keyboard.Len(); n != 1 {
		t.Errorf("%d interceptors, want 1", n)
	}

	h.ctrl.Teardown()
	if n := h.keyboard.Len(); n != 0 {
		t.Errorf("%d interceptors after teardown, want 0", n)
	}
	if h.keyboard.Dispatch(ctrlP()) {
		t.Error("Ctrl+P suppressed after teardown")
	}
}

func TestDownload(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	cfg := config("letter")

	h.ctrl.Start(ctx, cfg)
	if err := h.ctrl.Invoke(ctx, viewer.ActionDownload); !errors.Is(err, viewer.ErrActionDisabled) {
		t.Errorf("download with allowDownload=false: %v", err)
	}

	cfg.AllowDownload = true
	h.ctrl.Update(ctx, cfg)
	if err := h.ctrl.Invoke(ctx, viewer.ActionDownload); err != nil {
		t.Fatalf("download: %v", err)
	}
	want := []string{"create application/pdf", "download blob:1 document.pdf", "revoke blob:1"}
	if diff := cmp.Diff(want, h.resources.calls); diff != "" {
		t.Errorf("resource calls (-want +got):\n%s", diff)
	}
	if string(h.resources.data) != string(h.fetcher.payloads["letter"]) {
		t.Error("downloaded bytes differ from the payload")
	}

	h.resources.calls = nil
	h.resources.trigErr = errors.New("blocked by host")
	if err := h.ctrl.Invoke(ctx, viewer.ActionDownload); err == nil {
		t.Error("download error not reported")
	}
	if n := len(h.resources.calls); n != 3 || h.resources.calls[2] != "revoke blob:1" {
		t.Errorf("object url not revoked after failure: %v", h.resources.calls)
	}
}

func TestPrintAction(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	cfg := config("letter")

	h.ctrl.Start(ctx, cfg)
	if err := h.ctrl.Invoke(ctx, viewer.ActionPrint); !errors.Is(err, viewer.ErrActionDisabled) {
		t.Errorf("print with allowPrint=false: %v", err)
	}

	cfg.AllowPrint = true
	h.ctrl.Update(ctx, cfg)
	if err := h.ctrl.Invoke(ctx, viewer.ActionPrint); err != nil {
		t.Fatalf("print: %v", err)
	}
	if len(h.printer.surfaces) != 1 || h.printer.surfaces[0].State() != h.ctrl.State().Render {
		t.Errorf("printed surfaces = %v", h.printer.surfaces)
	}
}

func TestUnavailableHostFacilities(t *testing.T) {
	h := newHarness(t, func(o *viewer.Options) {
		o.Resources = nil
		o.Printer = nil
	})
	ctx := context.Background()
	cfg := config("letter")
	cfg.AllowDownload, cfg.AllowPrint = true, true
	h.ctrl.Start(ctx, cfg)

	for _, a := range []viewer.Action{viewer.ActionDownload, viewer.ActionPrint} {
		if err := h.ctrl.Invoke(ctx, a); !errors.Is(err, viewer.ErrUnavailable) {
			t.Errorf("%v error = %v, want ErrUnavailable", a, err)
		}
	}
}

func TestNavigationPlaceholders(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ctrl.Start(ctx, config("letter"))
	for _, a := range []viewer.Action{viewer.ActionPrev, viewer.ActionNext} {
		if err := h.ctrl.Invoke(ctx, a); !errors.Is(err, viewer.ErrActionDisabled) {
			t.Errorf("%v error = %v", a, err)
		}
	}
}

func TestLifecycleErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.ctrl.Update(ctx, config("letter")); !errors.Is(err, viewer.ErrNotStarted) {
		t.Errorf("Update before Start = %v", err)
	}
	if err := h.ctrl.Start(ctx, config("letter")); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Start(ctx, config("letter")); !errors.Is(err, viewer.ErrAlreadyStarted) {
		t.Errorf("second Start = %v", err)
	}
	h.ctrl.Teardown()
	if err := h.ctrl.Start(ctx, config("letter")); !errors.Is(err, viewer.ErrTornDown) {
		t.Errorf("Start after teardown = %v", err)
	}
	if err := h.ctrl.Invoke(ctx, viewer.ActionZoomIn); !errors.Is(err, viewer.ErrTornDown) {
		t.Errorf("Invoke after teardown = %v", err)
	}

	if _, err := viewer.New(viewer.Options{}); err == nil {
		t.Error("New accepted empty options")
	}
}
