package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"price_tracker/storage"
)

// Uploader is the optional remote copy of an export. Satisfied by storage.S3Uploader.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	ObjectURL(key string) string
}

var exportHeader = []string{"product_id", "store", "name", "url", "price", "observed_at"}

type ExportResult struct {
	Path      string
	Rows      int
	RemoteURL string
}

type ExportService struct {
	store    storage.Store
	uploader Uploader
}

// NewExportService takes a nil uploader when remote storage is not configured.
func NewExportService(store storage.Store, uploader Uploader) *ExportService {
	return &ExportService{store: store, uploader: uploader}
}

// Export writes every recorded observation to path as CSV, product by product
// in id order, oldest observation first. With an uploader configured the file
// is also stored under exports/<basename>.
func (s *ExportService) Export(ctx context.Context, path string) (*ExportResult, error) {
	var buf bytes.Buffer
	rows, err := s.WriteCSV(ctx, &buf)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}

	result := &ExportResult{Path: path, Rows: rows}
	log.Printf("Exported %d observations to %s", rows, path)

	if s.uploader != nil {
		key := "exports/" + filepath.Base(path)
		if err := s.uploader.Upload(ctx, key, bytes.NewReader(buf.Bytes()), "text/csv"); err != nil {
			return result, fmt.Errorf("upload export: %w", err)
		}
		result.RemoteURL = s.uploader.ObjectURL(key)
		log.Printf("Uploaded export to %s", result.RemoteURL)
	}

	return result, nil
}

func (s *ExportService) WriteCSV(ctx context.Context, w io.Writer) (int, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}

	rows := 0
	for _, p := range products {
		history, err := s.store.PriceHistory(ctx, p.ID)
		if err != nil {
			return rows, fmt.Errorf("history for product %d: %w", p.ID, err)
		}
		name := ""
		if p.Name != nil {
			name = *p.Name
		}
		for _, obs := range history {
			record := []string{
				strconv.FormatInt(p.ID, 10),
				string(p.Store),
				name,
				p.URL,
				strconv.FormatFloat(obs.Price, 'f', 2, 64),
				obs.ObservedAt.UTC().Format(time.RFC3339),
			}
			if err := cw.Write(record); err != nil {
				return rows, err
			}
			rows++
		}
	}

	cw.Flush()
	return rows, cw.Error()
}
