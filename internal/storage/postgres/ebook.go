package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore/internal/domain/catalog"
)

const (
	getEbookSQL = `SELECT id, title, author, price, format, file_size, storage_key
		FROM ebooks WHERE id = $1`

	upsertEbookSQL = `INSERT INTO ebooks (id, title, author, price, format, file_size, storage_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			price = EXCLUDED.price,
			format = COALESCE(NULLIF(EXCLUDED.format, ''), ebooks.format),
			file_size = CASE WHEN EXCLUDED.storage_key = '' THEN ebooks.file_size
				ELSE EXCLUDED.file_size END,
			storage_key = COALESCE(NULLIF(EXCLUDED.storage_key, ''), ebooks.storage_key)`
)

var _ catalog.Repository = (*EbookRepository)(nil)

// EbookRepository implements catalog.Repository backed by PostgreSQL.
type EbookRepository struct {
	pool *pgxpool.Pool
}

// NewEbookRepository returns an EbookRepository that uses the given pool.
func NewEbookRepository(pool *pgxpool.Pool) *EbookRepository {
	return &EbookRepository{pool: pool}
}

// GetEbook returns catalog.ErrNotFound when no ebook has the given ID.
func (r *EbookRepository) GetEbook(ctx context.Context, id string) (*catalog.Ebook, error) {
	rows, err := r.pool.Query(ctx, getEbookSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding ebook %q: %w", id, err)
	}

	book, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[catalog.Ebook])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("finding ebook %q: %w", id, err)
	}
	return &book, nil
}

// Upsert inserts or replaces ebooks in a single batch. An empty storage key
// keeps the file already stored for the ebook.
func (r *EbookRepository) Upsert(ctx context.Context, books []catalog.Ebook) error {
	batch := &pgx.Batch{}
	for _, b := range books {
		batch.Queue(upsertEbookSQL, b.ID, b.Title, b.Author, b.Price, b.Format, b.FileSize, b.StorageKey)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d ebooks: %w", len(books), err)
	}
	return nil
}
