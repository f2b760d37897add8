package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/bookstore/internal/storage/postgres"
	"github.com/xenking/bookstore/internal/storage/s3"
)

func main() {
	var (
		databaseURL string
		seedFile    string
		filesDir    string
		s3cfg       s3.Config
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/catalog.json", "path to catalog JSON file, optionally gzip-compressed (.gz)")
	flag.StringVar(&filesDir, "files-dir", "", "directory holding ebook files referenced by the seed file")
	flag.StringVar(&s3cfg.Bucket, "bucket", os.Getenv("BOOKSTORE_STORAGE_BUCKET"), "S3 bucket for ebook files; uploads are skipped when empty")
	flag.StringVar(&s3cfg.Region, "region", "ap-south-1", "S3 region")
	flag.StringVar(&s3cfg.Endpoint, "endpoint", "", "S3-compatible endpoint override")
	flag.BoolVar(&s3cfg.UsePathStyle, "path-style", false, "use path-style bucket addressing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile, filesDir, s3cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile, filesDir string, s3cfg s3.Config) error {
	data, err := readSeed(seedFile)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	ebooks, err := data.catalog()
	if err != nil {
		return err
	}
	coupons, err := data.rules()
	if err != nil {
		return err
	}

	if s3cfg.Bucket != "" {
		store, err := s3.New(ctx, s3cfg)
		if err != nil {
			return errors.Wrap(err, "create object store")
		}
		if err := uploadFiles(ctx, store, filesDir, data.Ebooks, ebooks); err != nil {
			return errors.Wrap(err, "upload ebook files")
		}
	} else {
		slog.Warn("no bucket configured, ebook files are not uploaded")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewEbookRepository(pool).Upsert(ctx, ebooks); err != nil {
		return errors.Wrap(err, "seed ebooks")
	}
	slog.Info("upserted ebooks", slog.Int("count", len(ebooks)))

	if err := postgres.NewCouponRepository(pool).Upsert(ctx, coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	slog.Info("upserted coupons", slog.Int("count", len(coupons)))

	return nil
}
