//go:build !unix

package main

import "github.com/AOShei/pdf-viewer/pkg/viewer"

// Without SIGWINCH the surface keeps its initial size until reloaded.
func newResizeObserver(*terminal) viewer.ResizeObserver {
	return nil
}
