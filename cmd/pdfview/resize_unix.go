//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/viewer"
)

// winchObserver reports the terminal size on every SIGWINCH.
type winchObserver struct {
	t *terminal
}

func newResizeObserver(t *terminal) viewer.ResizeObserver {
	return winchObserver{t: t}
}

func (o winchObserver) Observe(ctx context.Context) <-chan model.Size {
	sizes := make(chan model.Size, 1)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	go func() {
		defer close(sizes)
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
			}
			select {
			case sizes <- o.t.Size():
			case <-ctx.Done():
				return
			}
		}
	}()
	return sizes
}
