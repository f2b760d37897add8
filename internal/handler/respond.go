package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/checkout"
	"github.com/xenking/bookstore/internal/domain/pricing"
	"github.com/xenking/bookstore/internal/domain/shipment"
)

const maxBodySize = 1 << 20

// errBadRequest marks undecodable request bodies.
var errBadRequest = errors.New("invalid request body")

// upstreamError is implemented by provider errors that carry a message worth
// showing to the client.
type upstreamError interface {
	error
	UpstreamMessage() string
}

func decode(r *http.Request, v any) error {
	d := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := d.Decode(v); err != nil {
		return errors.Errorf("%w: %s", errBadRequest, err.Error())
	}
	return nil
}

// respond writes {"success":...,"message":...} followed by the fields written
// by body.
func respond(w http.ResponseWriter, status int, success bool, msg string, body func(e *jx.Encoder)) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(success)
	e.FieldStart("message")
	e.Str(msg)
	if body != nil {
		body(&e)
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeMessage(w http.ResponseWriter, status int, success bool, msg string) {
	respond(w, status, success, msg, nil)
}

// statusOf maps domain errors to an HTTP status and client message.
func statusOf(err error) (int, string) {
	var (
		validation *checkout.ValidationError
		upstream   upstreamError
		authErr    *shipment.AuthenticationError
	)
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.Is(err, checkout.ErrOrderDataNotFound),
		errors.Is(err, shipment.ErrNotFound),
		errors.Is(err, shipment.ErrNoCourier):
		return http.StatusNotFound, rootMessage(err)
	case errors.Is(err, checkout.ErrVerifyInProgress),
		errors.Is(err, shipment.ErrAlreadyCancelled):
		return http.StatusConflict, rootMessage(err)
	case errors.Is(err, pricing.ErrInvalidCoupon),
		errors.Is(err, pricing.ErrCouponExpired),
		errors.Is(err, pricing.ErrCouponUsageLimitReached):
		return http.StatusUnprocessableEntity, rootMessage(err)
	case errors.As(err, &authErr):
		return http.StatusInternalServerError, "carrier authentication failed"
	case errors.As(err, &upstream) && upstream.UpstreamMessage() != "":
		return http.StatusInternalServerError, upstream.UpstreamMessage()
	case errors.Is(err, checkout.ErrSessionCreation):
		return http.StatusInternalServerError, checkout.ErrSessionCreation.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// detail describes a failed fulfilment step, preferring the provider message.
func detail(err error) string {
	var upstream upstreamError
	if errors.As(err, &upstream) && upstream.UpstreamMessage() != "" {
		return upstream.UpstreamMessage()
	}
	return err.Error()
}

// rootMessage returns the message of the innermost sentinel.
func rootMessage(err error) string {
	for _, target := range []error{
		checkout.ErrOrderDataNotFound,
		checkout.ErrVerifyInProgress,
		shipment.ErrNotFound,
		shipment.ErrNoCourier,
		shipment.ErrAlreadyCancelled,
		pricing.ErrInvalidCoupon,
		pricing.ErrCouponExpired,
		pricing.ErrCouponUsageLimitReached,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeMessage(w, status, false, msg)
}

func money(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func str(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func int64Field(e *jx.Encoder, name string, v int64) {
	e.FieldStart(name)
	e.Int64(v)
}
