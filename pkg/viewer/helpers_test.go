package viewer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AOShei/pdf-viewer/internal/pdftest"
	"github.com/AOShei/pdf-viewer/internal/rendertest"
	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/render"
	"github.com/AOShei/pdf-viewer/pkg/viewer"
)

// fetcher serves payloads by record id and counts calls.
type fetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	err      error
	calls    int
	// hook, when set, runs before the payload is returned.
	hook func(ctx context.Context, loc model.Locator) error
}

func newFetcher() *fetcher {
	return &fetcher{payloads: map[string][]byte{
		"letter":    pdftest.Letter(),
		"a4":        pdftest.Sized(595, 842),
		"landscape": pdftest.Sized(800, 400),
		"html":      []byte("<html>sign in</html>"),
	}}
}

func (f *fetcher) FetchDocument(ctx context.Context, loc model.Locator) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	hook, err := f.hook, f.err
	data, ok := f.payloads[loc.RecordID]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, loc); err != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no such record")
	}
	return data, nil
}

func (f *fetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// frame is what the container saw in one Present call.
type frame struct {
	State    viewer.State
	Message  string
	Toolbar  model.ToolbarState
	Render   model.RenderState
	DisplayW int
	DisplayH int
}

type container struct {
	mu     sync.Mutex
	size   model.Size
	frames []frame
}

func newContainer(w, h float64) *container {
	return &container{size: model.Size{Width: w, Height: h}}
}

func (c *container) Size() model.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *container) SetSize(w, h float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = model.Size{Width: w, Height: h}
}

func (c *container) Present(v viewer.View) {
	f := frame{State: v.State, Message: v.Message, Toolbar: v.Toolbar}
	if v.Surface != nil {
		f.Render = v.Surface.State()
		f.DisplayW, f.DisplayH = v.Surface.DisplaySize()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *container) Last() frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return frame{}
	}
	return c.frames[len(c.frames)-1]
}

func (c *container) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type observer struct {
	events chan model.Size
}

func (o *observer) Observe(ctx context.Context) <-chan model.Size {
	return o.events
}

type resources struct {
	mu      sync.Mutex
	calls   []string
	data    []byte
	trigErr error
}

func (r *resources) CreateObjectURL(data []byte, mimeType string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "create "+mimeType)
	r.data = data
	return "blob:1", nil
}

func (r *resources) TriggerDownload(ctx context.Context, url, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "download "+url+" "+filename)
	return r.trigErr
}

func (r *resources) RevokeObjectURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "revoke "+url)
}

type printer struct {
	mu       sync.Mutex
	surfaces []*render.Surface
}

func (p *printer) Print(ctx context.Context, s *render.Surface) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.surfaces = append(p.surfaces, s)
	return nil
}

type harness struct {
	fetcher   *fetcher
	engine    *rendertest.Engine
	container *container
	keyboard  *viewer.Keyboard
	resources *resources
	printer   *printer
	ctrl      *viewer.Controller
}

func newHarness(t *testing.T, mod func(*viewer.Options)) *harness {
	t.Helper()
	h := &harness{
		fetcher:   newFetcher(),
		engine:    &rendertest.Engine{},
		container: newContainer(800, 600),
		keyboard:  viewer.NewKeyboard(),
		resources: &resources{},
		printer:   &printer{},
	}
	opts := viewer.Options{
		Fetcher:   h.fetcher,
		Decoder:   render.NewDecoder(h.engine, nil),
		Container: h.container,
		Keyboard:  h.keyboard,
		Resources: h.resources,
		Printer:   h.printer,
	}
	if mod != nil {
		mod(&opts)
	}
	ctrl, err := viewer.New(opts)
	if err != nil {
		t.Fatalf("viewer.New() error = %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Teardown)
	return h
}

func config(record string) model.ViewConfiguration {
	cfg := model.DefaultViewConfiguration()
	cfg.Locator = model.Locator{Collection: "invoice", RecordID: record, Field: "pdfBlob"}
	return cfg
}

func ctrlP() *viewer.KeyEvent {
	return &viewer.KeyEvent{Key: "p", Ctrl: true}
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
