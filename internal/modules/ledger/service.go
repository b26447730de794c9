// README: Coin/rating ledger: atomic increments, non-reserving balance check and exactly-once fee settlement.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"dispatch/internal/docstore"
	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

var (
	ErrRiderNotFound = errors.New("rider not found")
	ErrInvalidStars  = errors.New("stars must be between 1 and 5")
	ErrAlreadyRated  = errors.New("order already rated")
	ErrNotRateable   = errors.New("order cannot be rated")
)

type Options struct {
	Metrics *metrics.Dispatch
	Logger  *logger.Logger
}

type Service struct {
	docs    docstore.Store
	mode    docstore.Consistency
	metrics *metrics.Dispatch
	log     *logger.Logger
}

func NewService(docs docstore.Store, mode docstore.Consistency, opts Options) *Service {
	if mode == "" {
		mode = docstore.Transactional
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service{docs: docs, mode: mode, metrics: opts.Metrics, log: log}
}

func (s *Service) Get(ctx context.Context, rider types.ID) (*Rider, error) {
	doc, err := s.docs.Get(ctx, docstore.CollRiders, string(rider))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrRiderNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRider(doc), nil
}

// AdjustCoins applies coins += delta as a single atomic increment.
func (s *Service) AdjustCoins(ctx context.Context, rider types.ID, delta int64) error {
	err := s.docs.Update(ctx, docstore.CollRiders, string(rider), docstore.Fields{
		"coins": docstore.Increment(delta),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrRiderNotFound
	}
	return err
}

// Rate records one rating of stars (1..5) for rider.
func (s *Service) Rate(ctx context.Context, rider types.ID, stars int) error {
	if stars < 1 || stars > 5 {
		return ErrInvalidStars
	}
	err := s.docs.Update(ctx, docstore.CollRiders, string(rider), docstore.Fields{
		"totalStars":  docstore.Increment(int64(stars)),
		"ratingCount": docstore.Increment(1),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrRiderNotFound
	}
	return err
}

// RateOrder lets the customer of a completed order rate its rider once.
func (s *Service) RateOrder(ctx context.Context, orderID, customer types.ID, stars int) error {
	if stars < 1 || stars > 5 {
		return ErrInvalidStars
	}
	return docstore.Run(ctx, s.docs, s.mode, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(docstore.CollOrders, string(orderID))
		if errors.Is(err, docstore.ErrNotFound) {
			return order.ErrNotFound
		}
		if err != nil {
			return err
		}
		o, err := order.Decode(doc)
		if err != nil {
			return err
		}
		if o.CustomerID != customer {
			return order.ErrForbidden
		}
		if o.Status != order.StatusCompleted || o.RiderID == nil {
			return ErrNotRateable
		}
		if doc.Fields.Bool("rated") {
			return ErrAlreadyRated
		}
		if _, err := tx.Get(docstore.CollRiders, string(*o.RiderID)); errors.Is(err, docstore.ErrNotFound) {
			return ErrRiderNotFound
		} else if err != nil {
			return err
		}
		if err := tx.Update(docstore.CollOrders, string(orderID), docstore.Fields{"rated": true}); err != nil {
			return err
		}
		return tx.Update(docstore.CollRiders, string(*o.RiderID), docstore.Fields{
			"totalStars":  docstore.Increment(int64(stars)),
			"ratingCount": docstore.Increment(1),
		})
	})
}

func (s *Service) Balance(ctx context.Context, rider types.ID) (int64, error) {
	r, err := s.Get(ctx, rider)
	if err != nil {
		return 0, err
	}
	return r.Coins, nil
}

// HasBalance compares the current balance against amount. Nothing is reserved, so a
// concurrent deduction can still overdraw.
func (s *Service) HasBalance(ctx context.Context, rider types.ID, amount int64) (bool, error) {
	coins, err := s.Balance(ctx, rider)
	if err != nil {
		return false, err
	}
	return coins >= amount, nil
}

// SettleOrder deducts a completed order's delivery fee from its rider and flips
// coinDeducted to true. It reports whether this call performed the deduction; repeat
// calls are no-ops.
func (s *Service) SettleOrder(ctx context.Context, orderID types.ID) (bool, error) {
	settled := false
	err := docstore.Run(ctx, s.docs, s.mode, func(ctx context.Context, tx docstore.Tx) error {
		settled = false
		doc, err := tx.Get(docstore.CollOrders, string(orderID))
		if errors.Is(err, docstore.ErrNotFound) {
			return order.ErrNotFound
		}
		if err != nil {
			return err
		}
		o, err := order.Decode(doc)
		if err != nil {
			return err
		}
		if o.Status != order.StatusCompleted || o.CoinDeducted || o.RiderID == nil {
			return nil
		}
		if _, err := tx.Get(docstore.CollRiders, string(*o.RiderID)); errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("settle %s: %w", orderID, ErrRiderNotFound)
		} else if err != nil {
			return err
		}
		if err := tx.Update(docstore.CollOrders, string(orderID), docstore.Fields{
			"coinDeducted": true,
			"lastUpdated":  docstore.ServerTimestamp,
		}); err != nil {
			return err
		}
		if err := tx.Update(docstore.CollRiders, string(*o.RiderID), docstore.Fields{
			"coins": docstore.Increment(-o.DeliveryFee),
		}); err != nil {
			return err
		}
		settled = true
		return nil
	})
	switch {
	case err != nil:
		s.metrics.Settlement("error")
	case settled:
		s.metrics.Settlement("settled")
	default:
		s.metrics.Settlement("skipped")
	}
	return settled, err
}

// Subscribe streams the rider record for the wallet panel.
func (s *Service) Subscribe(ctx context.Context, rider types.ID) docstore.Subscription {
	return s.docs.Subscribe(ctx, docstore.Collection(docstore.CollRiders).Doc(string(rider)))
}

// WatchUnsettled settles every completed order of rider whose fee has not been
// deducted yet, as each one appears. It runs until ctx is cancelled.
func (s *Service) WatchUnsettled(ctx context.Context, rider types.ID) error {
	ctx = s.log.WithRiderID(ctx, rider.String())
	opts := docstore.WatchOptions{
		OnError: func(err error) { s.log.Warn(ctx, "ledger watch restarting", err) },
	}
	return docstore.Watch(ctx, s.docs, order.UnsettledQuery(rider), opts, func(snap docstore.Snapshot) error {
		for _, d := range snap.Docs {
			if _, err := s.SettleOrder(ctx, types.ID(d.ID)); err != nil {
				s.log.Error(s.log.WithOrderID(ctx, d.ID), "settle order", err)
			}
		}
		return nil
	})
}
