package render

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/AOShei/pdf-viewer/pkg/model"
)

// Surface is a painted page: the raster produced by a render pass and the
// size it is displayed at. Zooming changes only the display size.
type Surface struct {
	raster *image.RGBA
	state  model.RenderState

	displayW, displayH float64
}

// NewSurface wraps a raster rendered for state, displayed at its natural size.
func NewSurface(raster *image.RGBA, state model.RenderState) *Surface {
	return &Surface{
		raster:   raster,
		state:    state,
		displayW: float64(state.SurfaceWidth),
		displayH: float64(state.SurfaceHeight),
	}
}

// State returns the layout the raster was produced for.
func (s *Surface) State() model.RenderState { return s.state }

// Raster returns the pixels of the last render pass.
func (s *Surface) Raster() *image.RGBA { return s.raster }

// Zoom multiplies the display size by factor.
func (s *Surface) Zoom(factor float64) {
	s.displayW *= factor
	s.displayH *= factor
}

// ZoomFactor is the ratio of display size to raster size.
func (s *Surface) ZoomFactor() float64 {
	if s.state.SurfaceWidth == 0 {
		return 1
	}
	return s.displayW / float64(s.state.SurfaceWidth)
}

// DisplaySize returns the displayed size in whole pixels, at least 1x1.
func (s *Surface) DisplaySize() (int, int) {
	w := max(1, int(math.Round(s.displayW)))
	h := max(1, int(math.Round(s.displayH)))
	return w, h
}

// Image returns the raster stretched to the display size.
func (s *Surface) Image() image.Image {
	w, h := s.DisplaySize()
	if w == s.raster.Bounds().Dx() && h == s.raster.Bounds().Dy() {
		return s.raster
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), s.raster, s.raster.Bounds(), xdraw.Src, nil)
	return dst
}
