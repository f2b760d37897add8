package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/domain/pricing"
)

const uploadConcurrency = 4

type ebookJSON struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Author string          `json:"author"`
	Price  decimal.Decimal `json:"price"`
	Format string          `json:"format"`
	// File is a path relative to the files directory. It is uploaded when a
	// bucket is configured.
	File       string `json:"file"`
	StorageKey string `json:"storage_key"`
	FileSize   int64  `json:"file_size"`
}

type couponJSON struct {
	Code        string          `json:"code"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	MinItems    int             `json:"min_items"`
	ValidFrom   *time.Time      `json:"valid_from"`
	ValidUntil  *time.Time      `json:"valid_until"`
	MaxUses     int             `json:"max_uses"`
	MaxDiscount decimal.Decimal `json:"max_discount"`
}

type seedData struct {
	Ebooks  []ebookJSON  `json:"ebooks"`
	Coupons []couponJSON `json:"coupons"`
}

// readSeed decodes the seed file, decompressing it when the name ends in .gz.
func readSeed(path string) (*seedData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return decodeSeed(r)
}

func decodeSeed(r io.Reader) (*seedData, error) {
	var data seedData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, errors.Wrap(err, "parse seed JSON")
	}
	return &data, nil
}

func (d *seedData) catalog() ([]catalog.Ebook, error) {
	out := make([]catalog.Ebook, len(d.Ebooks))
	for i, e := range d.Ebooks {
		if e.ID == "" || e.Title == "" {
			return nil, errors.Errorf("ebook %d: id and title are required", i)
		}
		if e.Price.IsNegative() {
			return nil, errors.Errorf("ebook %s: negative price", e.ID)
		}
		out[i] = catalog.Ebook{
			ID:         e.ID,
			Title:      e.Title,
			Author:     e.Author,
			Price:      e.Price,
			Format:     strings.ToUpper(e.Format),
			FileSize:   e.FileSize,
			StorageKey: e.StorageKey,
		}
	}
	return out, nil
}

func (d *seedData) rules() ([]pricing.Rule, error) {
	out := make([]pricing.Rule, len(d.Coupons))
	for i, c := range d.Coupons {
		t := pricing.DiscountType(c.Type)
		switch t {
		case pricing.DiscountPercentage, pricing.DiscountFixed, pricing.DiscountCheapestFree:
		default:
			return nil, errors.Errorf("coupon %s: unknown type %q", c.Code, c.Type)
		}
		if c.Code == "" {
			return nil, errors.Errorf("coupon %d: code is required", i)
		}
		out[i] = pricing.Rule{
			Code:        strings.ToUpper(c.Code),
			Type:        t,
			Value:       c.Value,
			MinItems:    c.MinItems,
			ValidFrom:   c.ValidFrom,
			ValidUntil:  c.ValidUntil,
			MaxUses:     c.MaxUses,
			MaxDiscount: c.MaxDiscount,
		}
	}
	return out, nil
}

// objectPutter uploads ebook files.
type objectPutter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// objectKey returns the key for an uploaded ebook file. A random component
// keeps re-uploads from serving stale cached links.
func objectKey(id, file string) string {
	return "ebooks/" + id + "/" + uuid.NewString() + strings.ToLower(filepath.Ext(file))
}

// uploadFiles uploads every ebook that names a file and records its key and
// size in books.
func uploadFiles(ctx context.Context, store objectPutter, dir string, src []ebookJSON, books []catalog.Ebook) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)

	for i, e := range src {
		if e.File == "" {
			continue
		}
		g.Go(func() error {
			path := filepath.Join(dir, e.File)
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrapf(err, "open %s", path)
			}
			defer func() { _ = f.Close() }()

			st, err := f.Stat()
			if err != nil {
				return errors.Wrapf(err, "stat %s", path)
			}

			key := e.StorageKey
			if key == "" {
				key = objectKey(e.ID, e.File)
			}
			contentType := mime.TypeByExtension(filepath.Ext(e.File))
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			if err := store.Put(ctx, key, f, st.Size(), contentType); err != nil {
				return errors.Wrapf(err, "upload %s", e.ID)
			}

			books[i].StorageKey = key
			books[i].FileSize = st.Size()
			if books[i].Format == "" {
				books[i].Format = strings.ToUpper(strings.TrimPrefix(filepath.Ext(e.File), "."))
			}
			slog.Info("uploaded ebook", slog.String("id", e.ID), slog.String("key", key))
			return nil
		})
	}
	return g.Wait()
}
