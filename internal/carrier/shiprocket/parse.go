package shiprocket

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore/internal/domain/shipment"
)

const notPickedUp = "Shipment not picked up yet"

// findTrackingData returns the tracking_data object. Shiprocket nests it
// either at the top level or under the shipment id.
func findTrackingData(data []byte) (jx.Raw, error) {
	var found, nested jx.Raw
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if found != nil {
			return d.Skip()
		}
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		switch {
		case key == "tracking_data":
			found = bytes.Clone(raw)
		case raw.Type() == jx.Object && nested == nil:
			nested = bytes.Clone(raw)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode tracking")
	}
	if found != nil || nested == nil {
		return found, nil
	}
	return findTrackingData(nested)
}

func parseTracking(shipmentID int64, data []byte) (*shipment.Tracking, error) {
	out := &shipment.Tracking{ShipmentID: shipmentID, State: shipment.TrackingUnknown}

	td, err := findTrackingData(data)
	if err != nil {
		return nil, err
	}
	if td == nil || td.Type() != jx.Object {
		return out, nil
	}

	var (
		status     = int64(-1)
		errMsg     string
		activities jx.Raw
	)
	err = jx.DecodeBytes(td).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "track_status":
			if d.Next() != jx.Number {
				return d.Skip()
			}
			v, err := d.Int64()
			status = v
			return err
		case "error":
			if d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			errMsg = strings.TrimSpace(v)
			return err
		case "shipment_track_activities":
			raw, err := d.Raw()
			activities = bytes.Clone(raw)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode tracking data")
	}

	switch {
	case status == 0 || errMsg != "":
		out.State = shipment.TrackingPending
		out.Message = errMsg
		if out.Message == "" {
			out.Message = notPickedUp
		}
	case nonEmptyArray(activities):
		out.State = shipment.TrackingInProgress
		out.History = []byte(activities)
	}
	return out, nil
}

func nonEmptyArray(raw jx.Raw) bool {
	if raw == nil || raw.Type() != jx.Array {
		return false
	}
	var n int
	_ = jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		n++
		return d.Skip()
	})
	return n > 0
}

func parseCouriers(data []byte) ([]shipment.Courier, error) {
	var out []shipment.Courier
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "data" || d.Next() != jx.Object {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "available_courier_companies" || d.Next() != jx.Array {
				return d.Skip()
			}
			return d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCourier(d)
				if err != nil {
					return err
				}
				out = append(out, c)
				return nil
			})
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode serviceability")
	}
	return out, nil
}

func decodeCourier(d *jx.Decoder) (shipment.Courier, error) {
	var c shipment.Courier
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "courier_company_id":
			s, err := scalar(d)
			if err != nil {
				return err
			}
			c.ID, _ = strconv.ParseInt(s, 10, 64)
		case "courier_name":
			s, err := scalar(d)
			c.Name = s
			return err
		case "rate":
			s, err := scalar(d)
			if err != nil {
				return err
			}
			if v, perr := decimal.NewFromString(s); perr == nil {
				c.Rate = v
			}
		case "estimated_delivery_days":
			s, err := scalar(d)
			if err != nil {
				return err
			}
			c.EstimatedDays, _ = strconv.Atoi(s)
		case "etd":
			s, err := scalar(d)
			c.ETD = s
			return err
		default:
			return d.Skip()
		}
		return nil
	})
	return c, err
}

// scalar reads a string or number as text. Shiprocket is inconsistent about
// quoting numeric fields.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		return string(n), err
	default:
		return "", d.Skip()
	}
}
