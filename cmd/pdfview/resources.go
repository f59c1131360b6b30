package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AOShei/pdf-viewer/pkg/render"
)

// fileResources backs object URLs with temporary files in dir. A download
// copies the temporary file to its final name in the same directory.
type fileResources struct {
	dir string
	log *zap.Logger

	mu    sync.Mutex
	files map[string]string
}

func (r *fileResources) CreateObjectURL(data []byte, mimeType string) (string, error) {
	f, err := os.CreateTemp(r.dir, ".pdfview-*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	path, err := filepath.Abs(f.Name())
	if err != nil {
		path = f.Name()
	}
	url := "file://" + filepath.ToSlash(path)

	r.mu.Lock()
	if r.files == nil {
		r.files = make(map[string]string)
	}
	r.files[url] = f.Name()
	r.mu.Unlock()
	r.log.Debug("object url created", zap.String("url", url), zap.String("mime_type", mimeType), zap.Int("bytes", len(data)))
	return url, nil
}

func (r *fileResources) TriggerDownload(ctx context.Context, url, filename string) error {
	r.mu.Lock()
	src, ok := r.files[url]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown object url %s", url)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := uniquePath(filepath.Join(r.dir, filepath.Base(filename)))
	if err := copyFile(src, dst); err != nil {
		return err
	}
	r.log.Info("document downloaded", zap.String("path", dst))
	return nil
}

func (r *fileResources) RevokeObjectURL(url string) {
	r.mu.Lock()
	path, ok := r.files[url]
	delete(r.files, url)
	r.mu.Unlock()
	if ok {
		if err := os.Remove(path); err != nil {
			r.log.Debug("revoking object url", zap.String("url", url), zap.Error(err))
		}
	}
}

// uniquePath appends " (n)" before the extension until path does not exist.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for n := 1; ; n++ {
		p := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// pngPrinter "prints" by writing the surface as displayed to a PNG file.
type pngPrinter struct {
	dir string
	log *zap.Logger
	now func() time.Time
}

func (p *pngPrinter) Print(ctx context.Context, s *render.Surface) error {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	path := uniquePath(filepath.Join(p.dir, "print-"+now().Format("20060102-150405")+".png"))
	if err := writePNG(path, s.Image()); err != nil {
		return fmt.Errorf("print: %w", err)
	}
	p.log.Info("surface printed", zap.String("path", path))
	return nil
}
