package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"catalog_etl/models"
)

// Uploader puts an object into remote storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Exporter writes the products table as a JSON array for the dashboard and
// optionally uploads the same document.
type Exporter struct {
	path     string
	uploader Uploader
	key      string
}

// New returns an exporter writing to path. uploader may be nil.
func New(path string, uploader Uploader, key string) *Exporter {
	if key == "" {
		key = "products.json"
		if path != "" {
			key = filepath.Base(path)
		}
	}
	return &Exporter{path: path, uploader: uploader, key: key}
}

func (e *Exporter) Name() string {
	return "dashboard_export"
}

func (e *Exporter) Publish(ctx context.Context, products []models.Product) error {
	data, err := Encode(products)
	if err != nil {
		return err
	}

	if e.path != "" {
		if err := writeAtomic(e.path, data); err != nil {
			return err
		}
	}

	if e.uploader != nil {
		if err := e.uploader.Upload(ctx, e.key, bytes.NewReader(data), "application/json"); err != nil {
			return fmt.Errorf("upload %s: %w", e.key, err)
		}
	}
	return nil
}

// Encode renders products as an indented JSON array; an empty table gives [].
func Encode(products []models.Product) ([]byte, error) {
	if products == nil {
		products = []models.Product{}
	}
	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode products: %w", err)
	}
	return append(data, '\n'), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".products-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}
