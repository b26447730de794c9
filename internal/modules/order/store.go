// README: Order store over the document store; decodes with explicit defaults and runs check-then-write mutations.
package order

import (
	"context"
	"errors"
	"fmt"

	"dispatch/internal/docstore"
	"dispatch/internal/types"
)

type Store struct {
	docs docstore.Store
	mode docstore.Consistency
}

func NewStore(docs docstore.Store, mode docstore.Consistency) *Store {
	if mode == "" {
		mode = docstore.Transactional
	}
	return &Store{docs: docs, mode: mode}
}

func (s *Store) Docs() docstore.Store { return s.docs }

func (s *Store) Mode() docstore.Consistency { return s.mode }

func (s *Store) Create(ctx context.Context, o *Order) (types.ID, error) {
	id, err := s.docs.Add(ctx, docstore.CollOrders, encodeNew(o))
	if err != nil {
		return "", err
	}
	return types.ID(id), nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	doc, err := s.docs.Get(ctx, docstore.CollOrders, string(id))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return Decode(doc)
}

func (s *Store) Delete(ctx context.Context, id types.ID) error {
	return s.docs.Delete(ctx, docstore.CollOrders, string(id))
}

func (s *Store) ActiveNowCount(ctx context.Context, rider types.ID) (int, error) {
	docs, err := s.docs.Query(ctx, ActiveQuery(rider))
	if err != nil {
		return 0, err
	}
	return countActiveNow(docs), nil
}

// Lookup is the read surface available while a mutation decides what to write. In
// transactional mode its reads join the transaction.
type Lookup interface {
	ActiveNowCount(rider types.ID) (int, error)
}

type txLookup struct {
	tx docstore.Tx
}

func (l txLookup) ActiveNowCount(rider types.ID) (int, error) {
	docs, err := l.tx.Query(ActiveQuery(rider))
	if err != nil {
		return 0, err
	}
	return countActiveNow(docs), nil
}

// MutateFunc inspects the current order and returns the fields to write. A nil map
// writes nothing.
type MutateFunc func(o *Order, look Lookup) (docstore.Fields, error)

// Mutate runs read-check-write on one order under the store's consistency mode and
// returns the order as it was read.
func (s *Store) Mutate(ctx context.Context, id types.ID, fn MutateFunc) (*Order, error) {
	var before *Order
	err := docstore.Run(ctx, s.docs, s.mode, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(docstore.CollOrders, string(id))
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		o, err := Decode(doc)
		if err != nil {
			return err
		}
		f, err := fn(o, txLookup{tx: tx})
		if err != nil {
			return err
		}
		before = o
		if f == nil {
			return nil
		}
		f["lastUpdated"] = docstore.ServerTimestamp
		return tx.Update(docstore.CollOrders, string(id), f)
	})
	if err != nil {
		return nil, err
	}
	return before, nil
}

func PendingQuery() docstore.Query {
	return docstore.Collection(docstore.CollOrders).Where("status", docstore.OpEq, string(StatusPending))
}

func AssignedQuery(rider types.ID) docstore.Query {
	return docstore.Collection(docstore.CollOrders).Where("riderId", docstore.OpEq, string(rider))
}

func ClaimedQuery(rider types.ID) docstore.Query {
	return docstore.Collection(docstore.CollOrders).Where("tempRiderId", docstore.OpEq, string(rider))
}

func CompletedQuery(rider types.ID) docstore.Query {
	return AssignedQuery(rider).Where("status", docstore.OpEq, string(StatusCompleted))
}

// UnsettledQuery selects the rider's completed orders whose fee is not yet deducted.
func UnsettledQuery(rider types.ID) docstore.Query {
	return CompletedQuery(rider).Where("coinDeducted", docstore.OpEq, false)
}

func ActiveQuery(rider types.ID) docstore.Query {
	statuses := make([]string, len(ActiveStatuses))
	for i, st := range ActiveStatuses {
		statuses[i] = string(st)
	}
	return AssignedQuery(rider).Where("status", docstore.OpIn, statuses)
}

func OrderQuery(id types.ID) docstore.Query {
	return docstore.Collection(docstore.CollOrders).Doc(string(id))
}

// countActiveNow counts docs with pickupSchedule now; a missing schedule decodes as now.
func countActiveNow(docs []docstore.Doc) int {
	n := 0
	for _, d := range docs {
		if Schedule(d.Fields.Str("pickupSchedule")) != ScheduleTomorrow {
			n++
		}
	}
	return n
}

// Decode maps a stored document to an Order, applying defaults for absent fields.
func Decode(doc docstore.Doc) (*Order, error) {
	f := doc.Fields
	status := Status(f.Str("status"))
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: %q on order %s", ErrInvalidStatus, status, doc.ID)
	}
	schedule := Schedule(f.Str("pickupSchedule"))
	if !schedule.IsValid() {
		schedule = ScheduleNow
	}
	return &Order{
		ID:                     types.ID(doc.ID),
		Status:                 status,
		PickupSchedule:         schedule,
		CustomerID:             types.ID(f.Str("customerId")),
		CustomerName:           f.Str("customerName"),
		CustomerPhone:          f.Str("customerPhone"),
		RiderID:                idPtr(f, "riderId"),
		RiderName:              f.Str("riderName"),
		TempRiderID:            idPtr(f, "tempRiderId"),
		TempRiderName:          f.Str("tempRiderName"),
		LastRejectedRiderID:    idPtr(f, "lastRejectedRiderId"),
		RiderDismissed:         f.Bool("riderDismissed"),
		RiderDismissedTomorrow: f.Bool("riderDismissedTomorrow"),
		Item:                   f.Str("item"),
		Weight:                 f.Float64("weight"),
		ItemValue:              f.Int64("itemValue"),
		DeliveryFee:            f.Int64("deliveryFee"),
		Pickup:                 decodePlace(f.Map("pickup")),
		Dropoff:                decodePlace(f.Map("dropoff")),
		CoinDeducted:           f.Bool("coinDeducted"),
		CreatedAt:              f.Time("createdAt"),
		AcceptedAt:             f.Time("acceptedAt"),
		CompletedAt:            f.Time("completedAt"),
		LastUpdated:            f.Time("lastUpdated"),
	}, nil
}

// DecodeAll decodes docs, dropping the ones that fail validation.
func DecodeAll(docs []docstore.Doc) ([]*Order, int) {
	out := make([]*Order, 0, len(docs))
	skipped := 0
	for _, d := range docs {
		o, err := Decode(d)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, o)
	}
	return out, skipped
}

func encodeNew(o *Order) docstore.Fields {
	return docstore.Fields{
		"status":                 string(StatusPending),
		"pickupSchedule":         string(ScheduleNow),
		"customerId":             string(o.CustomerID),
		"customerName":           o.CustomerName,
		"customerPhone":          o.CustomerPhone,
		"riderId":                nil,
		"riderName":              "",
		"tempRiderId":            nil,
		"tempRiderName":          "",
		"lastRejectedRiderId":    nil,
		"riderDismissed":         false,
		"riderDismissedTomorrow": false,
		"item":                   o.Item,
		"weight":                 o.Weight,
		"itemValue":              o.ItemValue,
		"deliveryFee":            o.DeliveryFee,
		"pickup":                 encodePlace(o.Pickup),
		"dropoff":                encodePlace(o.Dropoff),
		"coinDeducted":           false,
		"createdAt":              docstore.ServerTimestamp,
		"lastUpdated":            docstore.ServerTimestamp,
	}
}

func decodePlace(f docstore.Fields) Place {
	return Place{
		Address:  f.Str("address"),
		Township: f.Str("township"),
		Lat:      f.Float64("lat"),
		Lng:      f.Float64("lng"),
	}
}

func encodePlace(p Place) map[string]any {
	return map[string]any{
		"address":  p.Address,
		"township": p.Township,
		"lat":      p.Lat,
		"lng":      p.Lng,
	}
}

func idPtr(f docstore.Fields, key string) *types.ID {
	v := f.Str(key)
	if v == "" {
		return nil
	}
	id := types.ID(v)
	return &id
}
