package delivery

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/domain/customer"
)

// Service delivers ebooks by email.
type Service struct {
	catalog catalog.Repository
	store   ObjectStore
	mailer  Mailer
	now     func() time.Time
}

// NewService creates a delivery Service.
func NewService(books catalog.Repository, store ObjectStore, mailer Mailer) *Service {
	return &Service{
		catalog: books,
		store:   store,
		mailer:  mailer,
		now:     time.Now,
	}
}

// Deliver validates every item, signs one download link per ebook and sends a
// single email with all links. Either all items are delivered or none.
func (s *Service) Deliver(ctx context.Context, c customer.Customer, items []Item, orderID string) (*Summary, error) {
	if len(items) == 0 {
		return &Summary{Delivered: 0, Items: []DeliveredItem{}}, nil
	}

	books := make([]*catalog.Ebook, 0, len(items))
	var invalid []InvalidItem
	for _, it := range items {
		book, err := s.catalog.GetEbook(ctx, it.ProductID)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			invalid = append(invalid, InvalidItem{ProductID: it.ProductID, Reason: "not found"})
			continue
		case err != nil:
			return nil, errors.Wrapf(err, "get ebook %s", it.ProductID)
		case book.StorageKey == "":
			invalid = append(invalid, InvalidItem{ProductID: it.ProductID, Reason: "no file"})
			continue
		}
		books = append(books, book)
	}
	if len(invalid) > 0 {
		return nil, &InvalidItemsError{Items: invalid}
	}

	expires := s.now().Add(LinkTTL)
	links := make([]mailLink, len(books))
	summary := &Summary{Items: make([]DeliveredItem, len(books))}
	for i, b := range books {
		url, err := s.store.SignedURL(ctx, b.StorageKey, LinkTTL)
		if err != nil {
			return nil, &Error{OrderID: orderID, Err: errors.Wrapf(err, "sign %s", b.ID)}
		}
		links[i] = mailLink{
			Title:   b.Title,
			Author:  b.Author,
			Format:  b.FormatOrDefault(),
			Size:    humanSize(b.FileSize),
			URL:     url,
			Expires: expiry(expires),
		}
		summary.Items[i] = DeliveredItem{Title: b.Title, Author: b.Author}
	}

	html, text, err := render(mailData{Name: c.FullName(), OrderID: orderID, Links: links})
	if err != nil {
		return nil, &Error{OrderID: orderID, Err: err}
	}
	if err := s.mailer.Send(ctx, Message{
		To:      c.Email,
		Subject: "Your ebooks are ready",
		HTML:    html,
		Text:    text,
		Links:   len(links),
	}); err != nil {
		return nil, &Error{OrderID: orderID, Err: errors.Wrap(err, "send mail")}
	}

	summary.Delivered = len(books)
	zctx.From(ctx).Info("Ebooks delivered",
		zap.String("order_id", orderID),
		zap.Int("count", summary.Delivered),
	)
	return summary, nil
}
