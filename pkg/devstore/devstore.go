// Package devstore is an in-memory record store that serves document fields
// over the same URL scheme as the production data API. It backs cmd/pdfstore
// and the end-to-end tests.
package devstore

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AOShei/pdf-viewer/pkg/fetch"
	"github.com/AOShei/pdf-viewer/pkg/loader"
	"github.com/AOShei/pdf-viewer/pkg/model"
)

// Record describes one stored field.
type Record struct {
	Collection string `json:"collection"`
	RecordID   string `json:"record_id"`
	Field      string `json:"field"`
	Size       int    `json:"size"`
	Pages      int    `json:"pages"`
	Title      string `json:"title,omitempty"`
}

type key struct {
	collection, id, field string
}

type entry struct {
	data []byte
	rec  Record
}

// Store holds document fields keyed by collection, record id and field.
type Store struct {
	apiPath  string
	token    string
	maxBytes int64
	log      *zap.Logger

	mu      sync.RWMutex
	entries map[key]entry
}

type Option func(*Store)

// WithToken requires "Authorization: Bearer <token>" on the data API.
func WithToken(token string) Option {
	return func(s *Store) { s.token = strings.TrimSpace(token) }
}

func WithAPIPath(p string) Option {
	return func(s *Store) { s.apiPath = "/" + strings.Trim(p, "/") }
}

// WithMaxBytes bounds uploaded payloads.
func WithMaxBytes(n int64) Option {
	return func(s *Store) { s.maxBytes = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		apiPath:  fetch.DefaultAPIPath,
		maxBytes: fetch.DefaultMaxBytes,
		log:      zap.NewNop(),
		entries:  make(map[key]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func keyOf(loc model.Locator) key {
	return key{
		collection: strings.TrimSpace(loc.Collection),
		id:         strings.ToLower(strings.Trim(strings.TrimSpace(loc.RecordID), "{}")),
		field:      strings.TrimSpace(loc.Field),
	}
}

// Put stores data under loc after checking that it is a readable PDF.
func (s *Store) Put(loc model.Locator, data []byte) (Record, error) {
	if !loc.Complete() {
		return Record{}, fmt.Errorf("locator %q is incomplete", loc.String())
	}
	doc, err := loader.Describe(data, 1, s.log)
	if err != nil {
		return Record{}, fmt.Errorf("rejecting %s: %w", loc, err)
	}

	k := keyOf(loc)
	rec := Record{
		Collection: k.collection,
		RecordID:   k.id,
		Field:      k.field,
		Size:       len(data),
		Pages:      len(doc.Pages),
		Title:      doc.Metadata.Title,
	}
	s.mu.Lock()
	s.entries[k] = entry{data: data, rec: rec}
	s.mu.Unlock()

	s.log.Info("record stored",
		zap.Stringer("locator", loc),
		zap.Int("bytes", len(data)),
		zap.Int("pages", rec.Pages))
	return rec, nil
}

// Get returns the bytes stored under loc.
func (s *Store) Get(loc model.Locator) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[keyOf(loc)]
	return e.data, ok
}

// Records lists the stored fields in collection, record id, field order.
func (s *Store) Records() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		if a.RecordID != b.RecordID {
			return a.RecordID < b.RecordID
		}
		return a.Field < b.Field
	})
	return out
}

// LoadDir stores every *.pdf file of dir under collection and field, using
// the file name without extension as record id. Unreadable files are logged
// and skipped.
func (s *Store) LoadDir(dir, collection, field string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return n, err
		}
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		loc := model.Locator{Collection: collection, RecordID: id, Field: field}
		if _, err := s.Put(loc, data); err != nil {
			s.log.Warn("skipping file", zap.String("path", path), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Handler returns the HTTP API:
//
//	GET  <api>/<collection>(<id>)/<field>/$value
//	PUT  <api>/<collection>(<id>)/<field>/$value
//	GET  /records
func (s *Store) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/records", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"records": s.Records()})
	})

	api := r.Group(s.apiPath, s.requireToken())
	api.GET("/:entity/:field/$value", s.getValue)
	api.PUT("/:entity/:field/$value", s.putValue)
	return r
}

func (s *Store) getValue(c *gin.Context) {
	loc, ok := locatorOf(c)
	if !ok {
		abort(c, http.StatusBadRequest, "malformed entity segment")
		return
	}
	data, ok := s.Get(loc)
	if !ok {
		abort(c, http.StatusNotFound, "record or field not found")
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Store) putValue(c *gin.Context) {
	loc, ok := locatorOf(c)
	if !ok {
		abort(c, http.StatusBadRequest, "malformed entity segment")
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, s.maxBytes+1))
	if err != nil {
		abort(c, http.StatusBadRequest, "reading body failed")
		return
	}
	if int64(len(data)) > s.maxBytes {
		abort(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload exceeds %d bytes", s.maxBytes))
		return
	}
	rec, err := s.Put(loc, data)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	c.JSON(http.StatusOK, rec)
}

// locatorOf splits the "collection(id)" segment.
func locatorOf(c *gin.Context) (model.Locator, bool) {
	entity := c.Param("entity")
	open := strings.IndexByte(entity, '(')
	if open <= 0 || !strings.HasSuffix(entity, ")") {
		return model.Locator{}, false
	}
	loc := model.Locator{
		Collection: entity[:open],
		RecordID:   entity[open+1 : len(entity)-1],
		Field:      c.Param("field"),
	}
	return loc, loc.Complete()
}

func (s *Store) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		parts := strings.Fields(c.GetHeader("Authorization"))
		if len(parts) != 2 || parts[0] != "Bearer" ||
			subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.token)) != 1 {
			abort(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

func (s *Store) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("request_id", c.GetHeader(fetch.RequestIDHeader)),
			zap.Duration("latency", time.Since(start)))
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": msg}})
}
