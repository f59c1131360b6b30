package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"pkt.systems/version"

	"github.com/AOShei/pdf-viewer/pkg/config"
	"github.com/AOShei/pdf-viewer/pkg/devstore"
	"github.com/AOShei/pdf-viewer/pkg/fetch"
	"github.com/AOShei/pdf-viewer/pkg/observability"
)

func init() {
	version.SetDefaultModule("github.com/AOShei/pdf-viewer")
}

func main() {
	var (
		addr        string
		dir         string
		collection  string
		field       string
		apiPath     string
		token       string
		logLevel    string
		showVersion bool
	)
	flags := pflag.NewFlagSet("pdfstore", pflag.ExitOnError)
	flags.StringVarP(&addr, "addr", "a", ":8080", "Listen address")
	flags.StringVarP(&dir, "dir", "d", "", "Directory of *.pdf files to preload")
	flags.StringVar(&collection, "collection", "documents", "Collection for preloaded files")
	flags.StringVar(&field, "field", "file", "Field for preloaded files")
	flags.StringVar(&apiPath, "api-path", fetch.DefaultAPIPath, "Data API prefix")
	flags.StringVar(&token, "token", os.Getenv("PDFSTORE_TOKEN"), "Require this bearer token")
	flags.StringVar(&logLevel, "log-level", "info", "Log level")
	flags.BoolVarP(&showVersion, "version", "v", false, "Print the version and exit")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, version.Module(), version.Current())
		fmt.Fprintln(os.Stderr, "Usage: pdfstore [flags]")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if showVersion {
		fmt.Println(version.Module(), version.Current())
		return
	}

	log, err := observability.NewLogger(config.LogConfig{Level: logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gin.SetMode(gin.ReleaseMode)
	store := devstore.New(
		devstore.WithAPIPath(apiPath),
		devstore.WithToken(token),
		devstore.WithLogger(log.Named("store")))
	if dir != "" {
		n, err := store.LoadDir(dir, collection, field)
		if err != nil {
			log.Fatal("preloading", zap.String("dir", dir), zap.Error(err))
		}
		log.Info("preloaded", zap.Int("records", n), zap.String("collection", collection), zap.String("field", field))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           store.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening",
		zap.String("addr", addr),
		zap.String("api_path", apiPath),
		zap.String("token", observability.MaskToken(token)),
		zap.String("version", version.Current()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}
