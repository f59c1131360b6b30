package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"pkt.systems/version"

	"github.com/AOShei/pdf-viewer/pkg/config"
	"github.com/AOShei/pdf-viewer/pkg/fetch"
	"github.com/AOShei/pdf-viewer/pkg/host"
	"github.com/AOShei/pdf-viewer/pkg/loader"
	"github.com/AOShei/pdf-viewer/pkg/observability"
	"github.com/AOShei/pdf-viewer/pkg/render"
	"github.com/AOShei/pdf-viewer/pkg/viewer"
)

func init() {
	version.SetDefaultModule("github.com/AOShei/pdf-viewer")
}

type options struct {
	configPath  string
	collection  string
	record      string
	field       string
	fit         string
	allowDL     bool
	allowPrint  bool
	hideToolbar bool
	baseURL     string
	surfacePath string
	logLevel    string
	inspect     bool
	workers     int
	showVersion bool
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	o := &options{}
	flags := pflag.NewFlagSet("pdfview", pflag.ContinueOnError)
	flags.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&o.collection, "collection", "", "Source collection (sourceCollection)")
	flags.StringVarP(&o.record, "record", "r", "", "Record id (recordId)")
	flags.StringVar(&o.field, "field", "", "File field (sourceField)")
	flags.StringVar(&o.fit, "fit", "", "Fit policy: auto|width|page")
	flags.BoolVar(&o.allowDL, "allow-download", false, "Enable the download action")
	flags.BoolVar(&o.allowPrint, "allow-print", false, "Enable printing")
	flags.BoolVar(&o.hideToolbar, "hide-toolbar", false, "Hide the toolbar line")
	flags.StringVar(&o.baseURL, "base-url", "", "Record store base URL")
	flags.StringVarP(&o.surfacePath, "output", "o", "", "PNG file the surface is written to")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&o.inspect, "inspect", false, "Print a JSON summary of the PDF files given as arguments and exit")
	flags.IntVar(&o.workers, "workers", 0, "Worker goroutines for --inspect (0 = one per CPU)")
	flags.BoolVarP(&o.showVersion, "version", "v", false, "Print the version and exit")
	flags.SetInterspersed(true)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, version.Module(), version.Current())
		fmt.Fprintln(os.Stderr, "Usage: pdfview [flags]")
		fmt.Fprintln(os.Stderr, "       pdfview --inspect [--workers N] <file.pdf>...")
		fmt.Fprintln(os.Stderr, "\nKeys: + zoom in, - zoom out, d download, p or Ctrl+P print, r reload, q quit")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flags.PrintDefaults()
	}
	err := flags.Parse(args)
	return o, flags, err
}

// apply overlays the flags that were set on cfg.
func (o *options) apply(cfg *config.Config, flags *pflag.FlagSet) {
	set := func(name, key string, v any) {
		if flags.Changed(name) {
			cfg.Control[key] = v
		}
	}
	set("collection", host.ParamSourceCollection, o.collection)
	set("record", host.ParamRecordID, o.record)
	set("field", host.ParamSourceField, o.field)
	set("fit", host.ParamFitPolicy, o.fit)
	set("allow-download", host.ParamAllowDownload, o.allowDL)
	set("allow-print", host.ParamAllowPrint, o.allowPrint)
	set("hide-toolbar", host.ParamToolbarVisible, !o.hideToolbar)

	if flags.Changed("base-url") {
		cfg.Endpoint.BaseURL = o.baseURL
	}
	if flags.Changed("output") {
		cfg.Output.SurfacePath = o.surfacePath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
}

func main() {
	o, flags, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if o.showVersion {
		fmt.Println(version.Module(), version.Current())
		return
	}
	if o.inspect {
		if err := inspect(flags.Args(), o.workers); err != nil {
			fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	o.apply(cfg, flags)
	if tok := strings.TrimSpace(os.Getenv("PDFVIEW_TOKEN")); tok != "" {
		cfg.Endpoint.Token = tok
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Log.Path == "" {
		// stderr shares the terminal with the viewer
		cfg.Log.Path = "pdfview.log"
	}
	log, err := observability.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("pdfview failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "pdfview: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting",
		zap.String("version", version.Current()),
		zap.String("base_url", cfg.Endpoint.BaseURL),
		zap.String("token", observability.MaskToken(cfg.Endpoint.Token)))

	client := &http.Client{
		Timeout:   cfg.Endpoint.Timeout,
		Transport: bearerTransport{token: cfg.Endpoint.Token, base: http.DefaultTransport},
	}
	fetcher := fetch.New(cfg.Endpoint.BaseURL,
		fetch.WithClient(client),
		fetch.WithAPIPath(cfg.Endpoint.APIPath),
		fetch.WithLogger(log.Named("fetch")))

	tty, err := newTerminal(os.Stdin, os.Stdout, cfg.Output.SurfacePath)
	if err != nil {
		return err
	}
	defer tty.Close()

	keyboard := viewer.NewKeyboard()
	ctl := host.NewControl(viewer.Options{
		Fetcher:        fetcher,
		Decoder:        render.NewDecoder(render.FitzEngine{}, log.Named("render")),
		Resize:         newResizeObserver(tty),
		ResizeDebounce: cfg.Resize.Debounce,
		Keyboard:       keyboard,
		Resources:      &fileResources{dir: cfg.Output.DownloadDir, log: log},
		Printer:        &pngPrinter{dir: cfg.Output.DownloadDir, log: log},
		Logger:         log.Named("viewer"),
	})
	defer ctl.Destroy()

	params := host.Params(cfg.Control)
	if err := ctl.Init(ctx, params, func() {}, tty); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return tty.loop(ctx, keyboard, ctl, params)
}

func inspect(paths []string, workers int) error {
	if len(paths) == 0 {
		return fmt.Errorf("no input files")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	for _, path := range paths {
		doc, err := loader.LoadFile(path, workers, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	}
	return nil
}

// bearerTransport adds the configured token to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}
