package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/domain/customer"
)

// --- Mock implementations ---

type mockCatalog struct {
	books map[string]*catalog.Ebook
	err   error
}

func (m *mockCatalog) GetEbook(_ context.Context, id string) (*catalog.Ebook, error) {
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.books[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return b, nil
}

type mockStore struct {
	signed []string
	ttl    time.Duration
	err    error
}

func (m *mockStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.signed = append(m.signed, key)
	m.ttl = ttl
	return "https://files.example.com/" + key + "?sig=abc", nil
}

type mockMailer struct {
	sent []Message
	err  error
}

func (m *mockMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// --- Helpers ---

func testCatalog() *mockCatalog {
	return &mockCatalog{books: map[string]*catalog.Ebook{
		"b1": {ID: "b1", Title: "The Go Programming Language", Author: "Donovan", StorageKey: "ebooks/b1.pdf", FileSize: 5 * 1024 * 1024},
		"b2": {ID: "b2", Title: "Concurrency in Go", Author: "Cox-Buday", Format: "EPUB", StorageKey: "ebooks/b2.epub"},
		"b3": {ID: "b3", Title: "Unpublished", Author: "Nobody"},
	}}
}

func testCustomer() customer.Customer {
	return customer.Customer{ID: "u1", FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Phone: "9999999999"}
}

// --- Tests ---

func TestDeliver(t *testing.T) {
	store := &mockStore{}
	mailer := &mockMailer{}
	svc := NewService(testCatalog(), store, mailer)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

	sum, err := svc.Deliver(context.Background(), testCustomer(), []Item{{ProductID: "b1"}, {ProductID: "b2"}}, "abc123def456")
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Delivered)
	assert.Equal(t, []DeliveredItem{
		{Title: "The Go Programming Language", Author: "Donovan"},
		{Title: "Concurrency in Go", Author: "Cox-Buday"},
	}, sum.Items)
	assert.Equal(t, []string{"ebooks/b1.pdf", "ebooks/b2.epub"}, store.signed)
	assert.Equal(t, 24*time.Hour, store.ttl)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "asha@example.com", msg.To)
	assert.Equal(t, 2, msg.Links)
	assert.Contains(t, msg.Text, "Asha Rao")
	assert.Contains(t, msg.Text, "abc123def456")
	assert.Contains(t, msg.Text, "https://files.example.com/ebooks/b1.pdf?sig=abc")
	assert.Contains(t, msg.Text, "(PDF, 5MiB)")
	assert.Contains(t, msg.Text, "(EPUB, unknown size)")
	assert.Contains(t, msg.Text, "02 May 2026 10:00 UTC")
	assert.Contains(t, msg.HTML, `href="https://files.example.com/ebooks/b2.epub?sig=abc"`)
}

func TestDeliver_MissingStorageKeyFailsBatch(t *testing.T) {
	store := &mockStore{}
	mailer := &mockMailer{}
	svc := NewService(testCatalog(), store, mailer)

	_, err := svc.Deliver(context.Background(), testCustomer(), []Item{{ProductID: "b1"}, {ProductID: "b3"}, {ProductID: "missing"}}, "o1")

	var invalid *InvalidItemsError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []InvalidItem{
		{ProductID: "b3", Reason: "no file"},
		{ProductID: "missing", Reason: "not found"},
	}, invalid.Items)
	assert.Empty(t, store.signed, "nothing is signed when validation fails")
	assert.Empty(t, mailer.sent, "nothing is sent when validation fails")
}

func TestDeliver_Empty(t *testing.T) {
	mailer := &mockMailer{}
	svc := NewService(testCatalog(), &mockStore{}, mailer)

	sum, err := svc.Deliver(context.Background(), testCustomer(), nil, "o1")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Delivered)
	assert.Empty(t, mailer.sent)
}

func TestDeliver_MailFailure(t *testing.T) {
	svc := NewService(testCatalog(), &mockStore{}, &mockMailer{err: errors.New("smtp: 421 busy")})

	_, err := svc.Deliver(context.Background(), testCustomer(), []Item{{ProductID: "b1"}}, "o1")

	var delErr *Error
	require.ErrorAs(t, err, &delErr)
	assert.Equal(t, "o1", delErr.OrderID)
	assert.Contains(t, err.Error(), "421 busy")
}

func TestDeliver_SignFailure(t *testing.T) {
	mailer := &mockMailer{}
	svc := NewService(testCatalog(), &mockStore{err: errors.New("access denied")}, mailer)

	_, err := svc.Deliver(context.Background(), testCustomer(), []Item{{ProductID: "b1"}}, "o1")

	var delErr *Error
	require.ErrorAs(t, err, &delErr)
	assert.Empty(t, mailer.sent)
}

func TestDeliver_CatalogFailure(t *testing.T) {
	svc := NewService(&mockCatalog{err: errors.New("connection refused")}, &mockStore{}, &mockMailer{})

	_, err := svc.Deliver(context.Background(), testCustomer(), []Item{{ProductID: "b1"}}, "o1")
	require.Error(t, err)

	var invalid *InvalidItemsError
	assert.False(t, errors.As(err, &invalid))
}
