// Package fit maps container and page sizes to a render scale.
package fit

import (
	"math"

	verrors "github.com/AOShei/pdf-viewer/pkg/errors"
	"github.com/AOShei/pdf-viewer/pkg/model"
)

// ComputeScale returns the factor that fits a page of pageW x pageH into a
// container of containerW x containerH under policy.
//
// FitAuto currently behaves exactly like FitPage.
func ComputeScale(containerW, containerH, pageW, pageH float64, policy model.FitPolicy) (float64, error) {
	if !positive(pageW) || !positive(pageH) {
		return 0, verrors.New(verrors.CodeInvalidGeometry, "page size %gx%g is not positive", pageW, pageH)
	}

	scaleToWidth := containerW / pageW
	scaleToHeight := containerH / pageH

	var scale float64
	switch policy {
	case model.FitWidth:
		scale = scaleToWidth
	case model.FitPage, model.FitAuto:
		scale = math.Min(scaleToWidth, scaleToHeight)
	default:
		scale = math.Min(scaleToWidth, scaleToHeight)
	}

	if !positive(scale) {
		return 0, verrors.New(verrors.CodeInvalidGeometry,
			"container %gx%g yields scale %g under %s", containerW, containerH, scale, policy)
	}
	return scale, nil
}

// Layout computes the RenderState for page inside container.
func Layout(container model.Size, page model.PageGeometry, policy model.FitPolicy) (model.RenderState, error) {
	scale, err := ComputeScale(container.Width, container.Height, page.Width, page.Height, policy)
	if err != nil {
		return model.RenderState{}, err
	}
	return StateAt(page, scale)
}

// StateAt returns the RenderState for page at a fixed scale.
func StateAt(page model.PageGeometry, scale float64) (model.RenderState, error) {
	st := model.RenderState{
		Scale:         scale,
		SurfaceWidth:  int(math.Floor(page.Width * scale)),
		SurfaceHeight: int(math.Floor(page.Height * scale)),
	}
	if st.SurfaceWidth < 1 || st.SurfaceHeight < 1 {
		return model.RenderState{}, verrors.New(verrors.CodeInvalidGeometry,
			"surface %dx%d is empty at scale %g", st.SurfaceWidth, st.SurfaceHeight, scale)
	}
	return st, nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
