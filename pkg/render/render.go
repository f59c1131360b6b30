// Package render turns document bytes into first-page rasters.
//
// Geometry comes from the pure-Go parser in pkg/pdf; pixels come from an
// Engine, normally MuPDF through go-fitz.
package render

import (
	"context"
	"errors"
	"image"

	xdraw "golang.org/x/image/draw"
	"go.uber.org/zap"

	verrors "github.com/AOShei/pdf-viewer/pkg/errors"
	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/pdf"
)

// PointsPerInch is the PDF user space resolution at scale 1.
const PointsPerInch = 72

// Engine opens documents for rasterizing.
type Engine interface {
	Open(data []byte) (Pages, error)
}

// Pages rasterizes pages of an opened document.
type Pages interface {
	RenderPage(page int, dpi float64) (*image.RGBA, error)
	Close() error
}

// Decoder turns payload bytes into a Document.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (Document, error)
}

// Document is a decoded payload whose first page can be rasterized at any scale.
type Document interface {
	Geometry() model.PageGeometry
	Render(ctx context.Context, state model.RenderState) (*image.RGBA, error)
	Close() error
}

// PDFDecoder validates payloads with pkg/pdf and rasterizes with Engine.
type PDFDecoder struct {
	engine Engine
	log    *zap.Logger
}

// NewDecoder returns a Decoder backed by engine. A nil log disables logging.
func NewDecoder(engine Engine, log *zap.Logger) *PDFDecoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &PDFDecoder{engine: engine, log: log}
}

// Decode parses the first page geometry and opens the payload in the engine.
func (d *PDFDecoder) Decode(ctx context.Context, data []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	geom, err := pdf.FirstPageGeometry(data)
	if err != nil {
		if errors.Is(err, pdf.ErrDegenerateGeometry) {
			return nil, verrors.Wrap(verrors.CodeInvalidGeometry, err, "first page cannot be laid out")
		}
		return nil, verrors.Wrap(verrors.CodeDecode, err, "payload is not a readable PDF")
	}

	pages, err := d.engine.Open(data)
	if err != nil {
		return nil, verrors.Wrap(verrors.CodeDecode, err, "payload could not be opened for rendering")
	}

	d.log.Debug("document decoded",
		zap.Int("bytes", len(data)),
		zap.Float64("page_width", geom.Width),
		zap.Float64("page_height", geom.Height),
		zap.Int("rotation", geom.Rotation))
	return &document{geom: geom, pages: pages}, nil
}

type document struct {
	geom  model.PageGeometry
	pages Pages
}

func (d *document) Geometry() model.PageGeometry { return d.geom }

// Render rasterizes the first page so that the result is exactly
// SurfaceWidth x SurfaceHeight pixels.
func (d *document) Render(ctx context.Context, state model.RenderState) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := d.pages.RenderPage(0, PointsPerInch*state.Scale)
	if err != nil {
		return nil, verrors.Wrap(verrors.CodeDecode, err, "page could not be rasterized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fitRaster(img, state.SurfaceWidth, state.SurfaceHeight), nil
}

func (d *document) Close() error {
	return d.pages.Close()
}

// fitRaster resamples img to w x h unless it already has that size. Engines
// round page sizes differently; the surface size is authoritative.
func fitRaster(img *image.RGBA, w, h int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h && b.Min == (image.Point{}) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
