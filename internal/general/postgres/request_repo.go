package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
)

// RideRequestRepo persists ride requests using pgx and plain SQL. The
// `version` column is the optimistic-concurrency guard: every transition is a
// conditional UPDATE on it, so a stale writer changes zero rows.
type RideRequestRepo struct{}

// NewRideRequestRepo constructs a new RideRequestRepo.
func NewRideRequestRepo() ports.RideRequestRepository {
	return &RideRequestRepo{}
}

const requestColumns = `
	id, created_at, updated_at, passenger_id, assigned_driver,
	vehicle_type, status, version,
	pickup_lat, pickup_lng, pickup_address,
	destination_lat, destination_lng, destination_address,
	offer_history, estimate,
	accepted_at, aboard_at, completed_at, cancelled_at, expired_at,
	cancelled_by, cancellation_reason`

// Create inserts a new ride request row in PENDING state with version 0.
func (repo *RideRequestRepo) Create(ctx context.Context, r *ride.Request) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	history, err := json.Marshal(r.OfferHistory)
	if err != nil {
		return fmt.Errorf("marshal offer history: %w", err)
	}
	var estimate []byte
	if r.Estimate != nil {
		if estimate, err = json.Marshal(r.Estimate); err != nil {
			return fmt.Errorf("marshal estimate: %w", err)
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ride_requests (
			passenger_id, vehicle_type, status, version,
			pickup_lat, pickup_lng, pickup_address,
			destination_lat, destination_lng, destination_address,
			offer_history, estimate
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`,
		r.PassengerID,
		r.VehicleType.String(),
		r.Status.String(), // PENDING
		r.Version,         // 0
		r.Pickup.Latitude, r.Pickup.Longitude, r.Pickup.Address,
		r.Destination.Latitude, r.Destination.Longitude, r.Destination.Address,
		history,
		estimate,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return err
	}

	return nil
}

// GetByID fetches a ride request by primary key (uuid).
func (repo *RideRequestRepo) GetByID(ctx context.Context, id string) (*ride.Request, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `SELECT`+requestColumns+` FROM ride_requests WHERE id = $1`, id)
	out, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ride.ErrRequestNotFound
	}
	return out, err
}

// ListPending returns PENDING requests, oldest first (FIFO fairness).
func (repo *RideRequestRepo) ListPending(ctx context.Context, limit int) ([]*ride.Request, error) {
	return repo.ListByStatus(ctx, ride.StatusPending, limit)
}

// ListByStatus returns requests in the given status, oldest first.
func (repo *RideRequestRepo) ListByStatus(ctx context.Context, status ride.Status, limit int) ([]*ride.Request, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT`+requestColumns+`
		FROM ride_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, status.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query requests by status: %w", err)
	}
	defer rows.Close()

	var out []*ride.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CompareAndTransition loads the current snapshot, validates the transition
// against the domain guards, and commits it with `WHERE version = $expected`.
// Zero rows affected means another writer won the race: the caller gets
// ride.ErrVersionConflict and nothing changed.
func (repo *RideRequestRepo) CompareAndTransition(ctx context.Context, id string, expectedVersion int64, next ride.Status, mut ride.Mutation) (*ride.Request, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	current, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, ride.ErrVersionConflict
	}

	// validate and apply in memory first; an illegal transition must not
	// touch the row at all
	if err := ride.ApplyTransition(current, next, mut); err != nil {
		return nil, err
	}

	history, err := json.Marshal(current.OfferHistory)
	if err != nil {
		return nil, fmt.Errorf("marshal offer history: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ride_requests
		SET status = $1,
		    version = version + 1,
		    updated_at = now(),
		    assigned_driver = $2,
		    offer_history = $3,
		    accepted_at = $4,
		    aboard_at = $5,
		    completed_at = $6,
		    cancelled_at = $7,
		    expired_at = $8,
		    cancelled_by = $9,
		    cancellation_reason = $10
		WHERE id = $11 AND version = $12
	`,
		current.Status.String(),
		current.AssignedDriver,
		history,
		current.AcceptedAt,
		current.AboardAt,
		current.CompletedAt,
		current.CancelledAt,
		current.ExpiredAt,
		cancelActorText(current.CancelledBy),
		current.CancellationReason,
		id,
		expectedVersion,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ride.ErrVersionConflict
	}

	current.Version = expectedVersion + 1
	return current, nil
}

// ---- row helpers ----

func cancelActorText(actor *ride.CancelActor) *string {
	if actor == nil {
		return nil
	}
	s := string(*actor)
	return &s
}

func scanRequest(row pgx.Row) (*ride.Request, error) {
	var (
		out         ride.Request
		vehicleType string
		status      string
		history     []byte
		estimate    []byte
		cancelledBy *string
	)

	err := row.Scan(
		&out.ID, &out.CreatedAt, &out.UpdatedAt, &out.PassengerID, &out.AssignedDriver,
		&vehicleType, &status, &out.Version,
		&out.Pickup.Latitude, &out.Pickup.Longitude, &out.Pickup.Address,
		&out.Destination.Latitude, &out.Destination.Longitude, &out.Destination.Address,
		&history, &estimate,
		&out.AcceptedAt, &out.AboardAt, &out.CompletedAt, &out.CancelledAt, &out.ExpiredAt,
		&cancelledBy, &out.CancellationReason,
	)
	if err != nil {
		return nil, err
	}

	out.VehicleType = ride.VehicleType(vehicleType)
	out.Status = ride.Status(status)
	if cancelledBy != nil {
		actor := ride.CancelActor(*cancelledBy)
		out.CancelledBy = &actor
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &out.OfferHistory); err != nil {
			return nil, fmt.Errorf("unmarshal offer history: %w", err)
		}
	}
	if len(estimate) > 0 {
		if err := json.Unmarshal(estimate, &out.Estimate); err != nil {
			return nil, fmt.Errorf("unmarshal estimate: %w", err)
		}
	}

	return &out, nil
}
