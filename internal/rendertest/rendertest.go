// Package rendertest provides an in-memory render.Engine for tests.
package rendertest

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/AOShei/pdf-viewer/pkg/pdf"
	"github.com/AOShei/pdf-viewer/pkg/render"
)

// ErrClosed is returned when rendering through closed pages.
var ErrClosed = errors.New("pages closed")

// Engine paints the first page as a solid rectangle of the page's size at the
// requested resolution, rounding up like MuPDF does.
type Engine struct {
	Fill      color.RGBA
	OpenErr   error
	RenderErr error

	mu      sync.Mutex
	opens   int
	renders int
	open    int
	dpis    []float64
}

var _ render.Engine = (*Engine)(nil)

func (e *Engine) Open(data []byte) (render.Pages, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opens++
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	geom, err := pdf.FirstPageGeometry(data)
	if err != nil {
		return nil, err
	}
	e.open++
	return &pages{engine: e, width: geom.Width, height: geom.Height}, nil
}

// Opens returns how many times Open was called.
func (e *Engine) Opens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

// Renders returns how many pages were rasterized.
func (e *Engine) Renders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renders
}

// OpenDocuments returns the number of opened, not yet closed documents.
func (e *Engine) OpenDocuments() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// DPIs returns the resolutions requested so far.
func (e *Engine) DPIs() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.dpis...)
}

type pages struct {
	engine        *Engine
	width, height float64
	closed        bool
}

func (p *pages) RenderPage(page int, dpi float64) (*image.RGBA, error) {
	e := p.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if e.RenderErr != nil {
		return nil, e.RenderErr
	}
	e.renders++
	e.dpis = append(e.dpis, dpi)

	w := int(math.Ceil(p.width * dpi / render.PointsPerInch))
	h := int(math.Ceil(p.height * dpi / render.PointsPerInch))
	img := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.Draw(img, img.Bounds(), image.NewUniform(e.Fill), image.Point{}, draw.Src)
	return img, nil
}

func (p *pages) Close() error {
	e := p.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if !p.closed {
		p.closed = true
		e.open--
	}
	return nil
}
