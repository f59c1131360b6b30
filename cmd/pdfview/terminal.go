package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"

	"github.com/AOShei/pdf-viewer/pkg/host"
	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/viewer"
)

const (
	// cell size used to turn terminal cells into container pixels
	cellWidth  = 8
	cellHeight = 16

	// lines kept for the status block
	reservedRows = 3

	defaultCols = 80
	defaultRows = 24
)

// terminal is the container of the terminal host: the surface goes to a PNG
// file, state and toolbar to the terminal.
type terminal struct {
	in          io.Reader
	out         io.Writer
	fd          int
	restore     *term.State
	surfacePath string

	mu sync.Mutex

	// surface writer, started by the first painted view
	wmu     sync.Mutex
	closed  bool
	frames  chan image.Image
	written chan struct{}
	pending sync.WaitGroup
}

func newTerminal(in, out *os.File, surfacePath string) (*terminal, error) {
	t := &terminal{in: in, out: out, fd: -1, surfacePath: surfacePath}
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("raw mode: %w", err)
		}
		t.fd, t.restore = fd, state
	}
	return t, nil
}

// Close stops the surface writer once its last frame is on disk and
// restores the terminal.
func (t *terminal) Close() error {
	t.wmu.Lock()
	t.closed = true
	frames, written := t.frames, t.written
	t.frames = nil
	t.wmu.Unlock()
	if frames != nil {
		close(frames)
		<-written
	}
	if t.restore != nil {
		return term.Restore(t.fd, t.restore)
	}
	return nil
}

func (t *terminal) cells() (int, int) {
	if t.fd >= 0 {
		if w, h, err := term.GetSize(t.fd); err == nil && w > 0 && h > 0 {
			return w, h
		}
	}
	return defaultCols, defaultRows
}

// Size maps the terminal minus the status block to pixels.
func (t *terminal) Size() model.Size {
	cols, rows := t.cells()
	return model.Size{
		Width:  float64(cols * cellWidth),
		Height: float64(max(rows-reservedRows, 0) * cellHeight),
	}
}

// Present runs with the controller's locks held: it hands the surface to the
// writer and only prints the status block itself.
func (t *terminal) Present(v viewer.View) {
	if v.Surface != nil && t.surfacePath != "" {
		t.queueSurface(v.Surface.Image())
	}
	cols, _ := t.cells()

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, "\x1b[H\x1b[2J", status(v, t.surfacePath, cols))
}

// queueSurface replaces any frame the writer has not picked up yet.
func (t *terminal) queueSurface(img image.Image) {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.closed {
		return
	}
	if t.frames == nil {
		t.frames = make(chan image.Image, 1)
		t.written = make(chan struct{})
		go t.writeSurfaces(t.frames, t.written)
	}
	t.pending.Add(1)
	for {
		select {
		case t.frames <- img:
			return
		case <-t.frames:
			t.pending.Done()
		}
	}
}

func (t *terminal) writeSurfaces(frames <-chan image.Image, written chan<- struct{}) {
	defer close(written)
	for img := range frames {
		if err := writePNG(t.surfacePath, img); err != nil {
			t.note(fmt.Sprintf("writing %s: %v", t.surfacePath, err))
		}
		t.pending.Done()
	}
}

// flush waits until every queued surface has been written.
func (t *terminal) flush() {
	t.pending.Wait()
}

// note prints msg below the status block.
func (t *terminal) note(msg string) {
	cols, _ := t.cells()
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, "\r\n", crlf(wordwrap.String(msg, cols)))
}

// status renders the state, toolbar and message of v.
func status(v viewer.View, surfacePath string, cols int) string {
	left := fmt.Sprintf("pdfview [%s]", v.State)
	line := left
	if v.Toolbar.Visible {
		bar := toolbar(v.Toolbar)
		pad := cols - ansi.PrintableRuneWidth(left) - ansi.PrintableRuneWidth(bar)
		line = left + strings.Repeat(" ", max(pad, 1)) + bar
	}

	msg := v.Message
	if v.Surface != nil {
		w, h := v.Surface.DisplaySize()
		msg = fmt.Sprintf("%dx%d at scale %.3f -> %s", w, h, v.Surface.State().Scale*v.Surface.ZoomFactor(), surfacePath)
	}
	if msg == "" {
		return line
	}
	return line + "\r\n" + crlf(wordwrap.String(msg, cols))
}

func toolbar(tb model.ToolbarState) string {
	items := []struct {
		label string
		on    bool
	}{
		{"<", tb.Prev},
		{">", tb.Next},
		{"+", tb.ZoomIn},
		{"-", tb.ZoomOut},
		{"d", tb.Download},
		{"p", tb.Print},
	}
	parts := make([]string, len(items))
	for i, it := range items {
		if it.on {
			parts[i] = "[" + it.label + "]"
		} else {
			parts[i] = "\x1b[2m[" + it.label + "]\x1b[0m"
		}
	}
	return strings.Join(parts, " ")
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func writePNG(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".surface-*.png")
	if err != nil {
		return err
	}
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// keyEvent decodes one byte of raw terminal input.
func keyEvent(b byte) *viewer.KeyEvent {
	if b >= 1 && b <= 26 {
		return &viewer.KeyEvent{Key: string(rune('a' + b - 1)), Ctrl: true}
	}
	return &viewer.KeyEvent{Key: string(rune(b))}
}

// loop reads keys until q, Ctrl+C, end of input or ctx is done.
func (t *terminal) loop(ctx context.Context, kb *viewer.Keyboard, ctl *host.Control, params host.Params) error {
	keys := make(chan byte)
	errc := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := t.in.Read(buf)
			if err != nil {
				errc <- err
				return
			}
			if n == 0 {
				continue
			}
			select {
			case keys <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case b := <-keys:
			if quit := t.handleKey(ctx, kb, ctl, params, keyEvent(b)); quit {
				return nil
			}
		}
	}
}

// handleKey dispatches ev through kb and runs its default action unless a
// listener prevented it.
func (t *terminal) handleKey(ctx context.Context, kb *viewer.Keyboard, ctl *host.Control, params host.Params, ev *viewer.KeyEvent) bool {
	if kb.Dispatch(ev) {
		if viewer.IsPrintShortcut(ev) {
			t.note("Printing is disabled for this document.")
		}
		return false
	}

	var err error
	switch {
	case ev.Ctrl && ev.Key == "c", !ev.Ctrl && ev.Key == "q":
		return true
	case viewer.IsPrintShortcut(ev), ev.Key == "p":
		err = ctl.Invoke(ctx, viewer.ActionPrint)
	case ev.Ctrl:
		return false
	case ev.Key == "+", ev.Key == "=":
		err = ctl.Invoke(ctx, viewer.ActionZoomIn)
	case ev.Key == "-":
		err = ctl.Invoke(ctx, viewer.ActionZoomOut)
	case ev.Key == "d":
		err = ctl.Invoke(ctx, viewer.ActionDownload)
	case ev.Key == "r":
		err = ctl.UpdateView(ctx, params)
	}
	if err != nil {
		t.note(err.Error())
	}
	return false
}
