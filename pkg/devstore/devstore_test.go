package devstore

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/AOShei/pdf-viewer/internal/pdftest"
	verrors "github.com/AOShei/pdf-viewer/pkg/errors"
	"github.com/AOShei/pdf-viewer/pkg/fetch"
	"github.com/AOShei/pdf-viewer/pkg/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var invoice = model.Locator{Collection: "invoice", RecordID: "{ABC-1}", Field: "pdfBlob"}

const valuePath = "/api/data/v9.2/invoice(abc-1)/pdfBlob/$value"

func TestPutAndGet(t *testing.T) {
	s := New()
	rec, err := s.Put(invoice, pdftest.Letter())
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	want := Record{Collection: "invoice", RecordID: "abc-1", Field: "pdfBlob", Size: len(pdftest.Letter()), Pages: 1}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record (-want +got):\n%s", diff)
	}

	got, ok := s.Get(model.Locator{Collection: "invoice", RecordID: "abc-1", Field: "pdfBlob"})
	if !ok || !bytes.Equal(got, pdftest.Letter()) {
		t.Errorf("Get() = %d bytes, %v", len(got), ok)
	}

	if _, err := s.Put(invoice, []byte("<html>")); err == nil {
		t.Error("Put accepted a non-PDF payload")
	}
	if _, err := s.Put(model.Locator{Collection: "invoice"}, pdftest.Letter()); err == nil {
		t.Error("Put accepted an incomplete locator")
	}
}

func TestHandlerGet(t *testing.T) {
	s := New()
	s.Put(invoice, pdftest.Letter())
	h := s.Handler()

	tests := []struct {
		path   string
		status int
	}{
		{valuePath, http.StatusOK},
		{"/api/data/v9.2/invoice(missing)/pdfBlob/$value", http.StatusNotFound},
		{"/api/data/v9.2/invoice(abc-1)/other/$value", http.StatusNotFound},
		{"/api/data/v9.2/invoice/pdfBlob/$value", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.status {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.status)
		}
	}
}

func TestHandlerPut(t *testing.T) {
	s := New()
	h := s.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPut, valuePath, bytes.NewReader(pdftest.Sized(595, 842))))
	if w.Code != http.StatusOK {
		t.Fatalf("PUT = %d: %s", w.Code, w.Body)
	}
	var rec Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Pages != 1 || rec.RecordID != "abc-1" {
		t.Errorf("record = %+v", rec)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPut, valuePath, bytes.NewReader([]byte("not a pdf"))))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("PUT garbage = %d, want 422", w.Code)
	}

	small := New(WithMaxBytes(16)).Handler()
	w = httptest.NewRecorder()
	small.ServeHTTP(w, httptest.NewRequest(http.MethodPut, valuePath, bytes.NewReader(pdftest.Letter())))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("PUT oversized = %d, want 413", w.Code)
	}
}

func TestHandlerToken(t *testing.T) {
	s := New(WithToken("s3cret"))
	s.Put(invoice, pdftest.Letter())
	h := s.Handler()

	for header, want := range map[string]int{
		"":              http.StatusUnauthorized,
		"Bearer wrong":  http.StatusUnauthorized,
		"Basic s3cret":  http.StatusUnauthorized,
		"Bearer s3cret": http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, valuePath, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("Authorization %q = %d, want %d", header, w.Code, want)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/records = %d, want 200 without a token", w.Code)
	}
}

func TestRecords(t *testing.T) {
	s := New()
	s.Put(model.Locator{Collection: "b", RecordID: "2", Field: "f"}, pdftest.Letter())
	s.Put(model.Locator{Collection: "a", RecordID: "9", Field: "f"}, pdftest.Letter())
	s.Put(model.Locator{Collection: "b", RecordID: "1", Field: "f"}, pdftest.Letter())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records", nil))
	var body struct {
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range body.Records {
		got = append(got, r.Collection+"/"+r.RecordID)
	}
	if diff := cmp.Diff([]string{"a/9", "b/1", "b/2"}, got); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "one.pdf"), pdftest.Letter(), 0o644)
	os.WriteFile(filepath.Join(dir, "two.pdf"), pdftest.Sized(100, 100), 0o644)
	os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("junk"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	core, logs := observer.New(zap.WarnLevel)
	s := New(WithLogger(zap.New(core)))
	n, err := s.LoadDir(dir, "doc", "file")
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if n != 2 {
		t.Errorf("loaded %d files, want 2", n)
	}
	if got := logs.FilterMessage("skipping file").Len(); got != 1 {
		t.Errorf("%d skip warnings, want 1", got)
	}
	if _, ok := s.Get(model.Locator{Collection: "doc", RecordID: "two", Field: "file"}); !ok {
		t.Error("two.pdf not stored")
	}
}

func TestServesFetchCoordinator(t *testing.T) {
	s := New(WithToken("t0ken"))
	s.Put(invoice, pdftest.Letter())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := fetch.New(srv.URL, fetch.WithClient(srv.Client()))
	if _, err := c.FetchDocument(context.Background(), invoice); verrors.CodeOf(err) != verrors.CodeAuth {
		t.Errorf("fetch without token: %v", err)
	}

	client := &http.Client{Transport: bearer{token: "t0ken", base: srv.Client().Transport}}
	c = fetch.New(srv.URL, fetch.WithClient(client))
	got, err := c.FetchDocument(context.Background(), invoice)
	if err != nil {
		t.Fatalf("FetchDocument() error = %v", err)
	}
	if !bytes.Equal(got, pdftest.Letter()) {
		t.Error("payload differs")
	}

	missing := invoice
	missing.RecordID = "nope"
	if _, err := c.FetchDocument(context.Background(), missing); verrors.CodeOf(err) != verrors.CodeNotFound {
		t.Errorf("fetch missing: %v", err)
	}
}

type bearer struct {
	token string
	base  http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(r)
}
