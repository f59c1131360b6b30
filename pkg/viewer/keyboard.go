package viewer

import (
	"strings"
	"sync"
)

// Phase is the dispatch phase a key listener is registered for.
type Phase int

const (
	// PhaseCapture listeners run before any bubble listener.
	PhaseCapture Phase = iota
	PhaseBubble
)

// KeyEvent is a key press delivered through a Keyboard.
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Meta  bool
	Alt   bool
	Shift bool

	prevented bool
	stopped   bool
}

// PreventDefault suppresses the host's default action for the key.
func (e *KeyEvent) PreventDefault() { e.prevented = true }

// DefaultPrevented reports whether a listener called PreventDefault.
func (e *KeyEvent) DefaultPrevented() bool { return e.prevented }

// StopPropagation keeps the event from reaching later listeners.
func (e *KeyEvent) StopPropagation() { e.stopped = true }

// KeyHandler handles one key event.
type KeyHandler func(*KeyEvent)

type listener struct {
	id      uint64
	phase   Phase
	handler KeyHandler
}

// Keyboard is a process-wide key event source. Listeners run in phase order,
// then registration order.
type Keyboard struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener
}

func NewKeyboard() *Keyboard {
	return &Keyboard{}
}

// Listen registers h for phase and returns a function that removes it.
// The returned function may be called more than once.
func (k *Keyboard) Listen(phase Phase, h KeyHandler) (remove func()) {
	k.mu.Lock()
	k.nextID++
	id := k.nextID
	k.listeners = append(k.listeners, listener{id: id, phase: phase, handler: h})
	k.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			defer k.mu.Unlock()
			for i, l := range k.listeners {
				if l.id == id {
					k.listeners = append(k.listeners[:i:i], k.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of registered listeners.
func (k *Keyboard) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.listeners)
}

// Dispatch delivers ev and reports whether the default action was prevented.
// Handlers run without the keyboard lock held and may register or remove listeners.
func (k *Keyboard) Dispatch(ev *KeyEvent) bool {
	k.mu.Lock()
	snapshot := make([]listener, 0, len(k.listeners))
	for _, phase := range []Phase{PhaseCapture, PhaseBubble} {
		for _, l := range k.listeners {
			if l.phase == phase {
				snapshot = append(snapshot, l)
			}
		}
	}
	k.mu.Unlock()

	for _, l := range snapshot {
		l.handler(ev)
		if ev.stopped {
			break
		}
	}
	return ev.prevented
}

// IsPrintShortcut reports whether ev is Ctrl+P or Cmd+P.
func IsPrintShortcut(ev *KeyEvent) bool {
	return (ev.Ctrl || ev.Meta) && !ev.Alt && strings.EqualFold(ev.Key, "p")
}

// PrintGuard owns the single keyboard interceptor that suppresses the print
// shortcut. It only covers the shortcut: a host menu or other print path is
// not blocked.
type PrintGuard struct {
	keyboard *Keyboard

	mu     sync.Mutex
	remove func()
	allow  bool
}

func NewPrintGuard(k *Keyboard) *PrintGuard {
	return &PrintGuard{keyboard: k}
}

// Install revokes the current interceptor, if any, and registers a new
// capture-phase one that prevents the print shortcut unless allowPrint is set.
func (g *PrintGuard) Install(allowPrint bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.remove != nil {
		g.remove()
	}
	g.allow = allowPrint
	g.remove = g.keyboard.Listen(PhaseCapture, func(ev *KeyEvent) {
		if !allowPrint && IsPrintShortcut(ev) {
			ev.PreventDefault()
			ev.StopPropagation()
		}
	})
}

// Revoke removes the interceptor. It is safe to call when none is installed.
func (g *PrintGuard) Revoke() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.remove != nil {
		g.remove()
		g.remove = nil
	}
}

// Active reports whether an interceptor is installed.
func (g *PrintGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remove != nil
}

// AllowsPrint reports the flag the current interceptor was installed with.
func (g *PrintGuard) AllowsPrint() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remove != nil && g.allow
}
