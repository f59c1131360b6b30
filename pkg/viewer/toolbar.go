package viewer

import (
	"context"
	"errors"
	"fmt"

	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/render"
)

// Action is a toolbar command.
type Action int

const (
	ActionPrev Action = iota
	ActionNext
	ActionZoomIn
	ActionZoomOut
	ActionDownload
	ActionPrint
)

var actionNames = [...]string{"prev", "next", "zoom_in", "zoom_out", "download", "print"}

func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

const (
	// ZoomStep is the display size factor of one zoom gesture.
	ZoomStep = 1.1

	// DownloadName is the file name offered for downloads.
	DownloadName = "document.pdf"
)

var (
	// ErrActionDisabled is returned when invoking an action the toolbar has disabled.
	ErrActionDisabled = errors.New("action is disabled")
	// ErrUnavailable is returned when an enabled action has no host facility to run on.
	ErrUnavailable = errors.New("action is not supported by the host")
)

// NewToolbarState derives the toolbar from the configuration. Prev and next
// stay disabled; zoom needs a rendered surface.
func NewToolbarState(cfg model.ViewConfiguration, rendered bool) model.ToolbarState {
	return model.ToolbarState{
		Visible:  cfg.ToolbarVisible,
		Prev:     false,
		Next:     false,
		ZoomIn:   rendered,
		ZoomOut:  rendered,
		Download: cfg.AllowDownload,
		Print:    cfg.AllowPrint,
	}
}

func enabled(tb model.ToolbarState, a Action) bool {
	switch a {
	case ActionPrev:
		return tb.Prev
	case ActionNext:
		return tb.Next
	case ActionZoomIn:
		return tb.ZoomIn
	case ActionZoomOut:
		return tb.ZoomOut
	case ActionDownload:
		return tb.Download
	case ActionPrint:
		return tb.Print
	}
	return false
}

// ResourceHost materializes payloads as downloadable resources.
type ResourceHost interface {
	CreateObjectURL(data []byte, mimeType string) (string, error)
	TriggerDownload(ctx context.Context, url, filename string) error
	RevokeObjectURL(url string)
}

// Printer sends a rendered surface to the host's print facility.
type Printer interface {
	Print(ctx context.Context, s *render.Surface) error
}

// download hands payload to the host and revokes the object URL as soon as
// the download was triggered, whether or not that succeeded.
func download(ctx context.Context, host ResourceHost, payload []byte) error {
	url, err := host.CreateObjectURL(payload, "application/pdf")
	if err != nil {
		return fmt.Errorf("create object url: %w", err)
	}
	defer host.RevokeObjectURL(url)
	if err := host.TriggerDownload(ctx, url, DownloadName); err != nil {
		return fmt.Errorf("trigger download: %w", err)
	}
	return nil
}
