// Package fetch retrieves document payloads from the host record store.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	verrors "github.com/AOShei/pdf-viewer/pkg/errors"
	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/observability"
)

const (
	// DefaultAPIPath is the record store's data API prefix.
	DefaultAPIPath = "/api/data/v9.2"
	// DefaultMaxBytes bounds the payload size.
	DefaultMaxBytes = 64 << 20

	// RequestIDHeader carries a fresh id per request for server-side correlation.
	RequestIDHeader = "x-ms-client-request-id"
)

// Coordinator turns locators into document bytes. It never retries and never
// caches: every FetchDocument call issues exactly one request.
type Coordinator struct {
	baseURL  string
	apiPath  string
	client   *http.Client
	maxBytes int64
	log      *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClient sets the HTTP client. Credentials travel with it (cookie jar or
// transport); the coordinator adds none of its own.
func WithClient(c *http.Client) Option {
	return func(co *Coordinator) { co.client = c }
}

// WithAPIPath overrides DefaultAPIPath.
func WithAPIPath(p string) Option {
	return func(co *Coordinator) { co.apiPath = "/" + strings.Trim(p, "/") }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(co *Coordinator) { co.maxBytes = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(co *Coordinator) { co.log = l }
}

// New returns a Coordinator for the record store at baseURL.
func New(baseURL string, opts ...Option) *Coordinator {
	c := &Coordinator{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiPath:  DefaultAPIPath,
		client:   http.DefaultClient,
		maxBytes: DefaultMaxBytes,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL of the binary value of loc's field.
func (c *Coordinator) Endpoint(loc model.Locator) string {
	return fmt.Sprintf("%s%s/%s(%s)/%s/$value",
		c.baseURL, c.apiPath,
		url.PathEscape(strings.TrimSpace(loc.Collection)),
		url.PathEscape(strings.Trim(strings.TrimSpace(loc.RecordID), "{}")),
		url.PathEscape(strings.TrimSpace(loc.Field)))
}

// FetchDocument downloads the payload referenced by loc.
func (c *Coordinator) FetchDocument(ctx context.Context, loc model.Locator) ([]byte, error) {
	if !loc.Complete() {
		return nil, verrors.New(verrors.CodeConfigurationIncomplete, "locator %q is incomplete", loc.String())
	}

	ctx, span := observability.Tracer().Start(ctx, "fetch.document")
	defer span.End()

	requestID := uuid.NewString()
	endpoint := c.Endpoint(loc)
	span.SetAttributes(
		attribute.String("viewer.collection", loc.Collection),
		attribute.String("viewer.field", loc.Field),
		attribute.String("http.request_id", requestID),
	)
	log := observability.FromContext(ctx, c.log).With(
		zap.String("request_id", requestID),
		zap.Stringer("locator", loc),
	)

	data, status, err := c.do(ctx, endpoint, requestID)
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(verrors.CodeOf(err)))
		log.Debug("fetch failed", zap.Int("status", status), zap.Error(err))
		return nil, err
	}

	log.Debug("fetch complete", zap.Int("status", status), zap.Int("bytes", len(data)))
	return data, nil
}

func (c *Coordinator) do(ctx context.Context, endpoint, requestID string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, verrors.Wrap(verrors.CodeNetwork, err, "invalid request")
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set(RequestIDHeader, requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, verrors.Wrap(verrors.CodeNetwork, err, "request failed")
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, resp.StatusCode, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, resp.StatusCode, verrors.Wrap(verrors.CodeNetwork, err, "reading response body").WithStatus(resp.StatusCode)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, resp.StatusCode, verrors.New(verrors.CodeNetwork, "payload exceeds %d bytes", c.maxBytes).WithStatus(resp.StatusCode)
	}
	return data, resp.StatusCode, nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return verrors.New(verrors.CodeAuth, "access denied").WithStatus(status)
	case status == http.StatusNotFound:
		return verrors.New(verrors.CodeNotFound, "record or field not found").WithStatus(status)
	default:
		return verrors.New(verrors.CodeNetwork, "unexpected response %s", http.StatusText(status)).WithStatus(status)
	}
}

// IsCanceled reports whether err stems from the caller's context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
