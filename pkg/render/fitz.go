package render

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzEngine rasterizes with MuPDF (requires cgo).
type FitzEngine struct{}

// Open loads data into a MuPDF document.
func (FitzEngine) Open(data []byte) (Pages, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	if doc.NumPage() < 1 {
		doc.Close()
		return nil, fmt.Errorf("document has no pages")
	}
	return &fitzPages{doc: doc}, nil
}

type fitzPages struct {
	doc *fitz.Document
}

func (p *fitzPages) RenderPage(page int, dpi float64) (*image.RGBA, error) {
	img, err := p.doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", page+1, err)
	}
	return img, nil
}

func (p *fitzPages) Close() error {
	return p.doc.Close()
}
