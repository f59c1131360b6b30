package loader

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AOShei/pdf-viewer/pkg/model"
	"github.com/AOShei/pdf-viewer/pkg/pdf"
)

// ErrNoPages is returned for files whose page tree yields no usable page.
var ErrNoPages = errors.New("document has no pages")

// pageResult holds the result of processing a single page
type pageResult struct {
	pageNum int
	page    model.Page
	err     error
}

// LoadFile reads path and summarises it with Describe.
func LoadFile(path string, workers int, log *zap.Logger) (*model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Describe(data, workers, log)
}

// Describe returns the metadata and page geometry of a PDF held in memory.
// workers <= 0 uses one worker per CPU. Pages that fail are logged and left
// out; a document with no usable page is an error.
func Describe(data []byte, workers int, log *zap.Logger) (*model.Document, error) {
	if log == nil {
		log = zap.NewNop()
	}

	reader, err := pdf.Open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to create pdf reader: %w", err)
	}

	info := reader.Metadata()
	meta := model.Metadata{
		Title:     info["Title"],
		Author:    info["Author"],
		Creator:   info["Creator"],
		Producer:  info["Producer"],
		Encrypted: reader.IsEncrypted(),
		Repaired:  reader.Repaired(),
	}
	if meta.Encrypted {
		log.Debug("pdf is encrypted, decrypting with the empty user password")
	}
	if meta.Repaired {
		log.Warn("cross-reference table was rebuilt")
	}

	numPages := reader.NumPages()
	log.Debug("processing pages", zap.Int("pages", numPages), zap.Int("workers", workers))

	var pages []model.Page
	if workers == 1 || numPages <= 1 {
		pages = describeSequential(reader, numPages, log)
	} else {
		pages = describeParallel(data, numPages, workers, log)
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}

	return &model.Document{
		Metadata: meta,
		Pages:    pages,
	}, nil
}

func describePage(reader *pdf.Reader, idx int) (model.Page, error) {
	g, err := reader.PageGeometry(idx)
	if err != nil {
		return model.Page{}, err
	}
	return model.Page{
		PageNumber: idx + 1,
		Width:      g.Width,
		Height:     g.Height,
		Rotation:   g.Rotation,
	}, nil
}

func describeSequential(reader *pdf.Reader, numPages int, log *zap.Logger) []model.Page {
	pages := make([]model.Page, 0, numPages)
	for i := 0; i < numPages; i++ {
		page, err := describePage(reader, i)
		if err != nil {
			log.Warn("skipping page", zap.Int("page", i+1), zap.Error(err))
			continue
		}
		pages = append(pages, page)
	}
	return pages
}

// describeParallel fans page indices out to a worker pool. A Reader caches
// parsed objects and is not safe for concurrent use, so every worker opens
// its own over the shared bytes.
func describeParallel(data []byte, numPages, workers int, log *zap.Logger) []model.Page {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > numPages {
		workers = numPages
	}

	pageIndices := make(chan int, numPages)
	results := make(chan pageResult, numPages)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			reader, err := pdf.Open(data)
			if err != nil {
				for idx := range pageIndices {
					results <- pageResult{pageNum: idx, err: err}
				}
				return
			}

			for idx := range pageIndices {
				start := time.Now()
				page, err := describePage(reader, idx)
				if err == nil {
					log.Debug("page processed", zap.Int("page", idx+1), zap.Duration("took", time.Since(start)))
				}
				results <- pageResult{pageNum: idx, page: page, err: err}
			}
		}()
	}

	for i := 0; i < numPages; i++ {
		pageIndices <- i
	}
	close(pageIndices)

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]model.Page, numPages)
	for result := range results {
		if result.err != nil {
			log.Warn("skipping page", zap.Int("page", result.pageNum+1), zap.Error(result.err))
			continue
		}
		collected[result.pageNum] = result.page
	}

	pages := make([]model.Page, 0, numPages)
	for _, page := range collected {
		if page.PageNumber > 0 {
			pages = append(pages, page)
		}
	}
	return pages
}
