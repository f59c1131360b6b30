package render_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/AOShei/pdf-viewer/internal/pdftest"
	"github.com/AOShei/pdf-viewer/internal/rendertest"
	verrors "github.com/AOShei/pdf-viewer/pkg/errors"
	"github.com/AOShei/pdf-viewer/pkg/fit"
	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/render"
)

func TestDecodeAndRender(t *testing.T) {
	engine := &rendertest.Engine{Fill: color.RGBA{R: 255, A: 255}}
	dec := render.NewDecoder(engine, nil)

	doc, err := dec.Decode(context.Background(), pdftest.Sized(600, 800))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	defer doc.Close()

	if diff := cmp.Diff(model.PageGeometry{Width: 600, Height: 800}, doc.Geometry()); diff != "" {
		t.Errorf("Geometry() (-want +got):\n%s", diff)
	}

	// 0.333 makes the engine round up to 200x267; the surface must still be 199x266
	scale := 0.333
	state, err := fit.StateAt(doc.Geometry(), scale)
	if err != nil {
		t.Fatal(err)
	}
	img, err := doc.Render(context.Background(), state)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got, want := img.Bounds(), image.Rect(0, 0, 199, 266); got != want {
		t.Errorf("raster bounds = %v, want %v", got, want)
	}
	if got := img.RGBAAt(100, 100); got.R != 255 {
		t.Errorf("pixel = %v, want red", got)
	}
	if diff := cmp.Diff([]float64{render.PointsPerInch * scale}, engine.DPIs()); diff != "" {
		t.Errorf("dpi (-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	engine := &rendertest.Engine{}
	dec := render.NewDecoder(engine, nil)
	ctx := context.Background()

	if _, err := dec.Decode(ctx, []byte("<html>login</html>")); !errors.Is(err, verrors.ErrDecode) {
		t.Errorf("Decode(html) error = %v, want DECODE_ERROR", err)
	}
	if _, err := dec.Decode(ctx, pdftest.Sized(0, 100)); !errors.Is(err, verrors.ErrInvalidGeometry) {
		t.Errorf("Decode(zero width) error = %v, want INVALID_GEOMETRY", err)
	}
	if engine.Opens() != 0 {
		t.Errorf("engine opened %d invalid documents", engine.Opens())
	}

	engine.OpenErr = errors.New("mupdf: broken")
	if _, err := dec.Decode(ctx, pdftest.Letter()); !errors.Is(err, verrors.ErrDecode) {
		t.Errorf("Decode() with failing engine error = %v, want DECODE_ERROR", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := dec.Decode(cancelled, pdftest.Letter()); !errors.Is(err, context.Canceled) {
		t.Errorf("Decode(cancelled) error = %v", err)
	}
}

func TestRenderFailure(t *testing.T) {
	engine := &rendertest.Engine{}
	doc, err := render.NewDecoder(engine, nil).Decode(context.Background(), pdftest.Letter())
	if err != nil {
		t.Fatal(err)
	}
	engine.RenderErr = errors.New("out of memory")
	state := model.RenderState{Scale: 1, SurfaceWidth: 612, SurfaceHeight: 792}
	if _, err := doc.Render(context.Background(), state); !errors.Is(err, verrors.ErrDecode) {
		t.Errorf("Render() error = %v, want DECODE_ERROR", err)
	}
	doc.Close()
	if n := engine.OpenDocuments(); n != 0 {
		t.Errorf("%d documents left open", n)
	}
}

func TestSurfaceZoom(t *testing.T) {
	state := model.RenderState{Scale: 1, SurfaceWidth: 100, SurfaceHeight: 50}
	s := render.NewSurface(image.NewRGBA(image.Rect(0, 0, 100, 50)), state)

	if img := s.Image(); img != s.Raster() {
		t.Error("Image() resampled an unzoomed surface")
	}

	s.Zoom(1.1)
	if w, h := s.DisplaySize(); w != 110 || h != 55 {
		t.Errorf("DisplaySize() after zoom in = %dx%d, want 110x55", w, h)
	}
	if got := s.Image().Bounds(); got != image.Rect(0, 0, 110, 55) {
		t.Errorf("Image() bounds = %v", got)
	}
	if s.Raster().Bounds() != image.Rect(0, 0, 100, 50) {
		t.Error("zoom changed the raster")
	}

	s.Zoom(1 / 1.1)
	s.Zoom(1 / 1.1)
	if w, h := s.DisplaySize(); w != 91 || h != 45 {
		t.Errorf("DisplaySize() after zoom out = %dx%d, want 91x45", w, h)
	}
	if diff := cmp.Diff(state, s.State()); diff != "" {
		t.Errorf("State() changed (-want +got):\n%s", diff)
	}
}
