package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested ebook does not exist.
var ErrNotFound = errors.New("ebook not found")

// DefaultFormat is reported for ebooks stored without an explicit format.
const DefaultFormat = "PDF"

// Ebook is a digital catalog item whose file lives in object storage.
type Ebook struct {
	ID     string
	Title  string
	Author string
	Price  decimal.Decimal
	Format string
	// FileSize is the size of the stored file in bytes.
	FileSize int64
	// StorageKey is the object storage key of the ebook file. Empty when the
	// file was never uploaded.
	StorageKey string
}

// FormatOrDefault returns the ebook format, falling back to DefaultFormat.
func (e Ebook) FormatOrDefault() string {
	if e.Format == "" {
		return DefaultFormat
	}
	return e.Format
}

// Repository defines read operations for the ebook catalog.
type Repository interface {
	GetEbook(ctx context.Context, id string) (*Ebook, error)
}
