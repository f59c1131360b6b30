package model

import "strings"

// Locator identifies where a document lives in the host record store.
type Locator struct {
	Collection string `json:"collection" yaml:"collection"`
	RecordID   string `json:"record_id" yaml:"record_id"`
	Field      string `json:"field" yaml:"field"`
}

// Complete reports whether all three locator parts are set.
func (l Locator) Complete() bool {
	return strings.TrimSpace(l.Collection) != "" &&
		strings.TrimSpace(l.RecordID) != "" &&
		strings.TrimSpace(l.Field) != ""
}

func (l Locator) String() string {
	return l.Collection + "(" + l.RecordID + ")/" + l.Field
}

// FitPolicy selects how a page is scaled into its container.
type FitPolicy string

const (
	FitAuto  FitPolicy = "auto"
	FitWidth FitPolicy = "width"
	FitPage  FitPolicy = "page"
)

// ParseFitPolicy maps a host value to a FitPolicy. Unknown values fall back to auto.
func ParseFitPolicy(s string) FitPolicy {
	switch FitPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case FitWidth:
		return FitWidth
	case FitPage:
		return FitPage
	default:
		return FitAuto
	}
}

// ViewConfiguration is the typed form of the host parameters for one update cycle.
type ViewConfiguration struct {
	Locator        Locator   `json:"locator"`
	FitPolicy      FitPolicy `json:"fit_policy"`
	AllowDownload  bool      `json:"allow_download"`
	AllowPrint     bool      `json:"allow_print"`
	ToolbarVisible bool      `json:"toolbar_visible"`
}

// DefaultViewConfiguration returns the configuration used when the host supplies nothing.
func DefaultViewConfiguration() ViewConfiguration {
	return ViewConfiguration{
		FitPolicy:      FitAuto,
		ToolbarVisible: true,
	}
}

// Size is a container's bounds in device pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageGeometry is the size of a page at unit scale, after rotation.
type PageGeometry struct {
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation,omitempty"`
}

// RenderState is the outcome of one layout pass.
// SurfaceWidth and SurfaceHeight are floor(page size * Scale).
type RenderState struct {
	Scale         float64 `json:"scale"`
	SurfaceWidth  int     `json:"surface_width"`
	SurfaceHeight int     `json:"surface_height"`
}

// ToolbarState holds the enabled state of every toolbar action.
type ToolbarState struct {
	Visible  bool `json:"visible"`
	Prev     bool `json:"prev"`
	Next     bool `json:"next"`
	ZoomIn   bool `json:"zoom_in"`
	ZoomOut  bool `json:"zoom_out"`
	Download bool `json:"download"`
	Print    bool `json:"print"`
}

// Document is a summary of a PDF file.
type Document struct {
	Metadata Metadata `json:"metadata"`
	Pages    []Page   `json:"pages"`
}

// Metadata holds document-level information.
type Metadata struct {
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Creator  string `json:"creator,omitempty"`
	Producer string `json:"producer,omitempty"`
	// Encrypted indicates if the file was password protected
	Encrypted bool `json:"encrypted"`
	// Repaired is set when the cross-reference table had to be rebuilt
	Repaired bool `json:"repaired,omitempty"`
}

// Page represents a single page in the PDF.
type Page struct {
	PageNumber int     `json:"page_number"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Rotation   int     `json:"rotation,omitempty"`
}
