package ride

// OfferResolution marks the outcome of the pending offer held by DriverID.
type OfferResolution struct {
	DriverID string
	Outcome  OfferOutcome
}

// Mutation is the payload of a compare-and-transition: everything that may
// change alongside the status in one atomic commit. Fields are optional;
// ApplyTransition validates which ones the target status requires.
type Mutation struct {
	AssignDriver *string
	AppendOffer  *OfferRecord
	ResolveOffer *OfferResolution
	CancelledBy  *CancelActor
	CancelReason string
}

// ApplyTransition applies the mutation and the status change to the request
// in memory, enforcing the lifecycle guards. Store implementations call it on
// the snapshot they loaded and persist the result conditionally on Version;
// the caller's expected_version check stays with the store.
func ApplyTransition(r *Request, next Status, m Mutation) error {
	if !next.Valid() {
		return ErrInvalidStatus
	}

	// offer resolutions ride along with PENDING/ACCEPTED/EXPIRED commits
	if m.ResolveOffer != nil {
		if err := r.ResolveOffer(m.ResolveOffer.DriverID, m.ResolveOffer.Outcome); err != nil {
			return err
		}
	}

	switch next {
	case StatusOffered:
		if m.AppendOffer == nil {
			return ErrInvalidTransition
		}
		return r.RecordOffer(*m.AppendOffer)

	case StatusAccepted:
		if m.AssignDriver == nil {
			return ErrDriverRequired
		}
		return r.AssignDriver(*m.AssignDriver)

	case StatusPending:
		return r.BackToPending()

	case StatusDriverEnRoute:
		return r.MarkEnRoute()

	case StatusDriverArrived:
		return r.MarkArrived()

	case StatusPassengerAboard:
		return r.MarkAboard()

	case StatusCompleted:
		return r.Complete()

	case StatusCancelled:
		actor := CancelBySystem
		if m.CancelledBy != nil {
			actor = *m.CancelledBy
		}
		return r.Cancel(actor, m.CancelReason)

	case StatusExpired:
		return r.Expire()

	default:
		return ErrInvalidTransition
	}
}
