// README: JSON shapes of orders, views and wallets on the wire.
package handlers

import (
	"time"

	"dispatch/internal/modules/dashboard"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/tracking"
	"dispatch/internal/types"
)

type placeDTO struct {
	Address  string  `json:"address"`
	Township string  `json:"township,omitempty"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type orderDTO struct {
	ID                     string     `json:"id"`
	Status                 string     `json:"status"`
	PickupSchedule         string     `json:"pickupSchedule"`
	CustomerID             string     `json:"customerId"`
	CustomerName           string     `json:"customerName,omitempty"`
	CustomerPhone          string     `json:"customerPhone,omitempty"`
	RiderID                *string    `json:"riderId"`
	RiderName              string     `json:"riderName,omitempty"`
	TempRiderID            *string    `json:"tempRiderId"`
	TempRiderName          string     `json:"tempRiderName,omitempty"`
	LastRejectedRiderID    *string    `json:"lastRejectedRiderId,omitempty"`
	RiderDismissed         bool       `json:"riderDismissed"`
	RiderDismissedTomorrow bool       `json:"riderDismissedTomorrow"`
	Item                   string     `json:"item"`
	Weight                 float64    `json:"weight"`
	ItemValue              int64      `json:"itemValue"`
	DeliveryFee            int64      `json:"deliveryFee"`
	Pickup                 placeDTO   `json:"pickup"`
	Dropoff                placeDTO   `json:"dropoff"`
	CoinDeducted           bool       `json:"coinDeducted"`
	CreatedAt              *time.Time `json:"createdAt,omitempty"`
	AcceptedAt             *time.Time `json:"acceptedAt,omitempty"`
	CompletedAt            *time.Time `json:"completedAt,omitempty"`
	LastUpdated            *time.Time `json:"lastUpdated,omitempty"`
}

func idString(id *types.ID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func toPlaceDTO(p order.Place) placeDTO {
	return placeDTO{Address: p.Address, Township: p.Township, Lat: p.Lat, Lng: p.Lng}
}

func (p placeDTO) place() order.Place {
	return order.Place{Address: p.Address, Township: p.Township, Lat: p.Lat, Lng: p.Lng}
}

func toOrderDTO(o *order.Order) orderDTO {
	return orderDTO{
		ID:                     string(o.ID),
		Status:                 string(o.Status),
		PickupSchedule:         string(o.PickupSchedule),
		CustomerID:             string(o.CustomerID),
		CustomerName:           o.CustomerName,
		CustomerPhone:          o.CustomerPhone,
		RiderID:                idString(o.RiderID),
		RiderName:              o.RiderName,
		TempRiderID:            idString(o.TempRiderID),
		TempRiderName:          o.TempRiderName,
		LastRejectedRiderID:    idString(o.LastRejectedRiderID),
		RiderDismissed:         o.RiderDismissed,
		RiderDismissedTomorrow: o.RiderDismissedTomorrow,
		Item:                   o.Item,
		Weight:                 o.Weight,
		ItemValue:              o.ItemValue,
		DeliveryFee:            o.DeliveryFee,
		Pickup:                 toPlaceDTO(o.Pickup),
		Dropoff:                toPlaceDTO(o.Dropoff),
		CoinDeducted:           o.CoinDeducted,
		CreatedAt:              o.CreatedAt,
		AcceptedAt:             o.AcceptedAt,
		CompletedAt:            o.CompletedAt,
		LastUpdated:            o.LastUpdated,
	}
}

func toOrderDTOs(orders []*order.Order) []orderDTO {
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	return out
}

type walletDTO struct {
	Coins         int64   `json:"coins"`
	Rating        float64 `json:"rating"`
	RatingDisplay string  `json:"ratingDisplay"`
	RatingCount   int64   `json:"ratingCount"`
}

// dashboardFrame is one websocket message of the rider dashboard stream.
type dashboardFrame struct {
	View          string     `json:"view"`
	Orders        []orderDTO `json:"orders,omitempty"`
	Live          []orderDTO `json:"live,omitempty"`
	Closed        []orderDTO `json:"closed,omitempty"`
	Awaiting      []orderDTO `json:"awaiting,omitempty"`
	Confirmed     []orderDTO `json:"confirmed,omitempty"`
	TotalEarnings *int64     `json:"totalEarnings,omitempty"`
	Wallet        *walletDTO `json:"wallet,omitempty"`
}

func toDashboardFrame(u dashboard.Update) dashboardFrame {
	f := dashboardFrame{View: string(u.View)}
	switch {
	case u.Pending != nil || u.View == dashboard.ViewPending:
		f.Orders = toOrderDTOs(u.Pending)
	case u.Active != nil:
		f.Live = toOrderDTOs(u.Active.Live)
		f.Closed = toOrderDTOs(u.Active.Closed)
	case u.Scheduled != nil:
		f.Awaiting = toOrderDTOs(u.Scheduled.Awaiting)
		f.Confirmed = toOrderDTOs(u.Scheduled.Confirmed)
	case u.History != nil:
		f.Orders = toOrderDTOs(u.History.Orders)
		total := u.History.TotalEarnings
		f.TotalEarnings = &total
	case u.Wallet != nil:
		f.Wallet = &walletDTO{
			Coins:         u.Wallet.Coins,
			Rating:        u.Wallet.Rating,
			RatingDisplay: u.Wallet.RatingDisplay,
			RatingCount:   u.Wallet.RatingCount,
		}
	}
	return f
}

type stepDTO struct {
	Status  string `json:"status"`
	Reached bool   `json:"reached"`
}

type pointDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type riderPositionDTO struct {
	RiderID  string     `json:"riderId"`
	Name     string     `json:"name"`
	Lat      float64    `json:"lat"`
	Lng      float64    `json:"lng"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

func toRiderPositionDTO(p location.Position) riderPositionDTO {
	return riderPositionDTO{
		RiderID:  string(p.RiderID),
		Name:     p.Name,
		Lat:      p.Point.Lat,
		Lng:      p.Point.Lng,
		LastSeen: p.LastSeen,
	}
}

type etaDTO struct {
	Target          string `json:"target"`
	DurationSeconds int64  `json:"durationSeconds"`
	Distance        string `json:"distance"`
}

// trackingFrame is one websocket message of the customer tracking stream.
type trackingFrame struct {
	Order       *orderDTO         `json:"order"`
	Steps       []stepDTO         `json:"steps"`
	ClaimPrompt bool              `json:"claimPrompt"`
	Rider       *riderPositionDTO `json:"rider,omitempty"`
	Trail       []pointDTO        `json:"trail,omitempty"`
	ETA         *etaDTO           `json:"eta,omitempty"`
}

func toTrackingFrame(v tracking.View) trackingFrame {
	f := trackingFrame{ClaimPrompt: v.ClaimPrompt, Steps: make([]stepDTO, 0, len(v.Steps))}
	if v.Order != nil {
		o := toOrderDTO(v.Order)
		f.Order = &o
	}
	for _, s := range v.Steps {
		f.Steps = append(f.Steps, stepDTO{Status: string(s.Status), Reached: s.Reached})
	}
	if v.Rider != nil {
		r := toRiderPositionDTO(*v.Rider)
		f.Rider = &r
	}
	for _, p := range v.Trail {
		f.Trail = append(f.Trail, pointDTO{Lat: p.Lat, Lng: p.Lng})
	}
	if v.ETA != nil {
		f.ETA = &etaDTO{
			Target:          string(v.ETA.Target),
			DurationSeconds: int64(v.ETA.Duration.Seconds()),
			Distance:        v.ETA.DistanceText,
		}
	}
	return f
}
