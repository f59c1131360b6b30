// Package host adapts the view controller to a host lifecycle that speaks in
// untyped property bags: init, update, outputs and destroy.
package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/viewer"
)

// Parameter names of the property bag.
const (
	ParamSourceCollection = "sourceCollection"
	ParamRecordID         = "recordId"
	ParamSourceField      = "sourceField"
	ParamFitPolicy        = "fitPolicy"
	ParamAllowDownload    = "allowDownload"
	ParamAllowPrint       = "allowPrint"
	ParamToolbarVisible   = "toolbarVisible"
)

// Params is the property bag the host passes on every lifecycle call.
type Params map[string]any

// ParseConfiguration converts params into a ViewConfiguration. Missing or
// unreadable values take their defaults.
func ParseConfiguration(p Params) model.ViewConfiguration {
	cfg := model.DefaultViewConfiguration()
	cfg.Locator = model.Locator{
		Collection: p.str(ParamSourceCollection),
		RecordID:   strings.Trim(p.str(ParamRecordID), "{}"),
		Field:      p.str(ParamSourceField),
	}
	cfg.FitPolicy = model.ParseFitPolicy(p.str(ParamFitPolicy))
	cfg.AllowDownload = p.flag(ParamAllowDownload, false)
	cfg.AllowPrint = p.flag(ParamAllowPrint, false)
	cfg.ToolbarVisible = p.flag(ParamToolbarVisible, true)
	return cfg
}

func (p Params) str(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Params) flag(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

var (
	ErrNotInitialized = errors.New("host: control not initialized")
	ErrInitialized    = errors.New("host: control already initialized")
)

// Control is one instance of the viewer as the host sees it.
type Control struct {
	opts viewer.Options

	mu     sync.Mutex
	ctrl   *viewer.Controller
	notify func()
}

// NewControl returns a control whose controllers are built from opts. The
// container is supplied later by Init.
func NewControl(opts viewer.Options) *Control {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Control{opts: opts}
}

// Init mounts the control into container and renders params. notify is the
// host's output-changed callback; the control has no outputs and never calls it.
func (c *Control) Init(ctx context.Context, params Params, notify func(), container viewer.Container) error {
	c.mu.Lock()
	if c.ctrl != nil {
		c.mu.Unlock()
		return ErrInitialized
	}
	opts := c.opts
	opts.Container = container
	ctrl, err := viewer.New(opts)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.ctrl = ctrl
	c.notify = notify
	c.mu.Unlock()

	cfg := ParseConfiguration(params)
	opts.Logger.Info("control initialized",
		zap.Stringer("locator", cfg.Locator),
		zap.String("fit_policy", string(cfg.FitPolicy)))
	return c.settle(ctrl.Start(ctx, cfg))
}

// UpdateView applies params and returns when the render pass has settled.
// Fetch, decode and layout failures are shown in the container and do not
// fail the call.
func (c *Control) UpdateView(ctx context.Context, params Params) error {
	ctrl, err := c.controller()
	if err != nil {
		return err
	}
	return c.settle(ctrl.Update(ctx, ParseConfiguration(params)))
}

// settle keeps lifecycle misuse and drops render pass outcomes.
func (c *Control) settle(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, viewer.ErrTornDown),
		errors.Is(err, viewer.ErrNotStarted),
		errors.Is(err, viewer.ErrAlreadyStarted):
		return err
	}
	c.opts.Logger.Debug("render pass settled", zap.Error(err))
	return nil
}

// Invoke forwards a toolbar action.
func (c *Control) Invoke(ctx context.Context, a viewer.Action) error {
	ctrl, err := c.controller()
	if err != nil {
		return err
	}
	return ctrl.Invoke(ctx, a)
}

// State returns the controller snapshot.
func (c *Control) State() (viewer.Snapshot, error) {
	ctrl, err := c.controller()
	if err != nil {
		return viewer.Snapshot{}, err
	}
	return ctrl.State(), nil
}

// GetOutputs always returns an empty map.
func (c *Control) GetOutputs() map[string]any {
	return map[string]any{}
}

// Destroy tears the controller down. It is safe to call more than once.
func (c *Control) Destroy() {
	c.mu.Lock()
	ctrl := c.ctrl
	c.mu.Unlock()
	if ctrl != nil {
		ctrl.Teardown()
	}
}

func (c *Control) controller() (*viewer.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctrl == nil {
		return nil, ErrNotInitialized
	}
	return c.ctrl, nil
}
