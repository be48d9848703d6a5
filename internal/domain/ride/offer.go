package ride

import (
	"errors"
	"strings"
	"time"
)

// OfferOutcome records how a single offer to a driver was resolved.
type OfferOutcome string

const (
	OfferPending  OfferOutcome = "PENDING"
	OfferAccepted OfferOutcome = "ACCEPTED"
	OfferRejected OfferOutcome = "REJECTED"
	OfferTimedOut OfferOutcome = "TIMED_OUT"
)

var ErrInvalidOfferOutcome = errors.New("invalid offer outcome")

// Valid reports whether the outcome is one of the allowed constants.
func (o OfferOutcome) Valid() bool {
	switch o {
	case OfferPending, OfferAccepted, OfferRejected, OfferTimedOut:
		return true
	default:
		return false
	}
}

// Resolved reports whether the offer has reached a final outcome.
func (o OfferOutcome) Resolved() bool {
	return o == OfferAccepted || o == OfferRejected || o == OfferTimedOut
}

// String returns the string representation of the OfferOutcome.
func (o OfferOutcome) String() string {
	return string(o)
}

// OfferRecord is one append-only entry of a request's offer_history.
// The history doubles as the exclusion set: a driver with a resolved
// non-accepted entry is never offered the same request again.
type OfferRecord struct {
	OfferID   string       `json:"offer_id"`
	DriverID  string       `json:"driver_id"`
	OfferedAt time.Time    `json:"offered_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	Outcome   OfferOutcome `json:"outcome"`
}

// Offer is the ephemeral, time-boxed proposal of a request to one driver.
// It lives in the coordinator while the offer window is open; only its
// OfferRecord survives in the request's offer_history.
type Offer struct {
	OfferID   string
	RequestID string
	DriverID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewOffer builds an offer for the given request/driver pair with the
// configured offer window.
func NewOffer(offerID, requestID, driverID string, window time.Duration) (*Offer, error) {
	if strings.TrimSpace(offerID) == "" {
		return nil, errors.New("offer id is required")
	}
	if strings.TrimSpace(requestID) == "" {
		return nil, errors.New("request id is required")
	}
	if strings.TrimSpace(driverID) == "" {
		return nil, ErrDriverRequired
	}
	now := time.Now().UTC()
	return &Offer{
		OfferID:   offerID,
		RequestID: requestID,
		DriverID:  driverID,
		IssuedAt:  now,
		ExpiresAt: now.Add(window),
	}, nil
}

// Record converts the offer to its history entry with a pending outcome.
func (o *Offer) Record() OfferRecord {
	return OfferRecord{
		OfferID:   o.OfferID,
		DriverID:  o.DriverID,
		OfferedAt: o.IssuedAt,
		ExpiresAt: o.ExpiresAt,
		Outcome:   OfferPending,
	}
}

// Expired reports whether the offer window has passed at the given instant.
func (o *Offer) Expired(at time.Time) bool {
	return !at.Before(o.ExpiresAt)
}
