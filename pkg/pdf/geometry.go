package pdf

import (
	"errors"
	"fmt"
	"math"

	"github.com/AOShei/pdf-viewer/pkg/model"
)

// ErrDegenerateGeometry is returned for pages whose visible box has no area.
var ErrDegenerateGeometry = errors.New("page has a degenerate size")

// letter is the box used when a page carries no usable /MediaBox.
var letter = Rectangle{URX: 612, URY: 792}

// Rectangle is a PDF box in default user space units.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

func (b Rectangle) Width() float64  { return b.URX - b.LLX }
func (b Rectangle) Height() float64 { return b.URY - b.LLY }

// normalize orders the corners so that LL is the lower left one.
func (b Rectangle) normalize() Rectangle {
	if b.LLX > b.URX {
		b.LLX, b.URX = b.URX, b.LLX
	}
	if b.LLY > b.URY {
		b.LLY, b.URY = b.URY, b.LLY
	}
	return b
}

// Intersect returns the overlap of b and o; it is empty if they do not overlap.
func (b Rectangle) Intersect(o Rectangle) Rectangle {
	r := Rectangle{
		LLX: math.Max(b.LLX, o.LLX),
		LLY: math.Max(b.LLY, o.LLY),
		URX: math.Min(b.URX, o.URX),
		URY: math.Min(b.URY, o.URY),
	}
	if r.URX < r.LLX || r.URY < r.LLY {
		return Rectangle{}
	}
	return r
}

// box reads a rectangle entry of page, resolving references.
func (r *Reader) box(page DictionaryObject, name string) (Rectangle, bool) {
	arr, ok := r.Resolve(page[name]).(ArrayObject)
	if !ok || len(arr) != 4 {
		return Rectangle{}, false
	}
	var v [4]float64
	for i, item := range arr {
		n, ok := r.Resolve(item).(NumberObject)
		if !ok {
			return Rectangle{}, false
		}
		v[i] = float64(n)
	}
	return Rectangle{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}.normalize(), true
}

// VisibleBox returns the page's crop box clipped to its media box.
func (r *Reader) VisibleBox(page DictionaryObject) Rectangle {
	media, ok := r.box(page, "/MediaBox")
	if !ok {
		media = letter
	}
	if crop, ok := r.box(page, "/CropBox"); ok {
		return crop.Intersect(media)
	}
	return media
}

// Rotation returns the page's /Rotate value normalised to 0, 90, 180 or 270.
func (r *Reader) Rotation(page DictionaryObject) int {
	n, ok := r.Resolve(page["/Rotate"]).(NumberObject)
	if !ok {
		return 0
	}
	rot := int(n) % 360
	if rot < 0 {
		rot += 360
	}
	if rot%90 != 0 {
		return 0
	}
	return rot
}

// PageGeometry returns the displayed size of the Nth page (0-indexed) at unit
// scale: the visible box, swapped for quarter turns and multiplied by /UserUnit.
func (r *Reader) PageGeometry(pageIndex int) (model.PageGeometry, error) {
	page, err := r.GetPage(pageIndex)
	if err != nil {
		return model.PageGeometry{}, err
	}

	box := r.VisibleBox(page)
	unit := 1.0
	if u, ok := r.Resolve(page["/UserUnit"]).(NumberObject); ok && u > 0 {
		unit = float64(u)
	}

	g := model.PageGeometry{
		Width:    box.Width() * unit,
		Height:   box.Height() * unit,
		Rotation: r.Rotation(page),
	}
	if g.Rotation == 90 || g.Rotation == 270 {
		g.Width, g.Height = g.Height, g.Width
	}
	if !(g.Width > 0) || !(g.Height > 0) || math.IsInf(g.Width, 0) || math.IsInf(g.Height, 0) {
		return model.PageGeometry{}, fmt.Errorf("page %d: %w (%gx%g)", pageIndex+1, ErrDegenerateGeometry, g.Width, g.Height)
	}
	return g, nil
}

// FirstPageGeometry opens data and returns the geometry of its first page.
func FirstPageGeometry(data []byte) (model.PageGeometry, error) {
	r, err := Open(data)
	if err != nil {
		return model.PageGeometry{}, err
	}
	return r.PageGeometry(0)
}
