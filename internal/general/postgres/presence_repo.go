package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
)

// DriverPresenceRepo stores the availability record per driver. Status moves
// are validated against the domain transition table under FOR UPDATE, and
// location writes carry a monotonicity guard on located_at.
type DriverPresenceRepo struct{}

// NewDriverPresenceRepo constructs a new DriverPresenceRepo.
func NewDriverPresenceRepo() ports.DriverPresenceRepository {
	return &DriverPresenceRepo{}
}

const presenceColumns = `
	driver_id, vehicle_type, status, active_ride_id,
	latitude, longitude, located_at,
	last_heartbeat, created_at, updated_at`

// Upsert registers the driver or refreshes an existing registration in place.
func (repo *DriverPresenceRepo) Upsert(ctx context.Context, p *driver.Presence) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO driver_presence (
			driver_id, vehicle_type, status,
			latitude, longitude, located_at, last_heartbeat
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (driver_id) DO UPDATE
		SET vehicle_type   = EXCLUDED.vehicle_type,
		    status         = EXCLUDED.status,
		    active_ride_id = NULL,
		    latitude       = EXCLUDED.latitude,
		    longitude      = EXCLUDED.longitude,
		    located_at     = EXCLUDED.located_at,
		    last_heartbeat = EXCLUDED.last_heartbeat,
		    updated_at     = now()
		RETURNING created_at, updated_at
	`,
		p.DriverID,
		p.VehicleType.String(),
		p.Status.String(),
		p.Location.Latitude, p.Location.Longitude, p.Location.LocatedAt,
		p.LastHeartbeat,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}

	return nil
}

// GetByID fetches a single presence record.
func (repo *DriverPresenceRepo) GetByID(ctx context.Context, driverID string) (*driver.Presence, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `SELECT`+presenceColumns+` FROM driver_presence WHERE driver_id = $1`, driverID)
	out, err := scanPresence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, driver.ErrDriverNotFound
	}
	return out, err
}

// ListByIDs hydrates presence records for a candidate set. Unknown ids are
// silently skipped; the caller treats absence as unavailability.
func (repo *DriverPresenceRepo) ListByIDs(ctx context.Context, driverIDs []string) ([]*driver.Presence, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(driverIDs) == 0 {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT`+presenceColumns+`
		FROM driver_presence
		WHERE driver_id = ANY($1)
	`, driverIDs)
	if err != nil {
		return nil, fmt.Errorf("query presences: %w", err)
	}
	defer rows.Close()

	var out []*driver.Presence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateLocation writes a location sample. The located_at guard drops
// out-of-order samples instead of rewinding the position.
func (repo *DriverPresenceRepo) UpdateLocation(ctx context.Context, driverID string, loc driver.Location) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE driver_presence
		SET latitude       = $1,
		    longitude      = $2,
		    located_at     = $3,
		    last_heartbeat = $3,
		    updated_at     = now()
		WHERE driver_id = $4 AND located_at <= $3
	`, loc.Latitude, loc.Longitude, loc.LocatedAt, driverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// distinguish a missing driver from a stale sample
		if _, err := repo.GetByID(ctx, driverID); err != nil {
			return err
		}
		return driver.ErrStaleUpdate
	}

	return nil
}

// UpdateStatus locks the row, validates the move against the transition
// table, and commits it. Moving to ONLINE or OFFLINE drops any ride
// association left over from a hold.
func (repo *DriverPresenceRepo) UpdateStatus(ctx context.Context, driverID string, next driver.Status) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	var currentText string
	err = tx.QueryRow(ctx, `
		SELECT status FROM driver_presence WHERE driver_id = $1 FOR UPDATE
	`, driverID).Scan(&currentText)
	if errors.Is(err, pgx.ErrNoRows) {
		return driver.ErrDriverNotFound
	}
	if err != nil {
		return err
	}

	current := driver.Status(currentText)
	if current == next {
		return nil // idempotent repeat
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", driver.ErrInvalidStatusTransition, current, next)
	}

	_, err = tx.Exec(ctx, `
		UPDATE driver_presence
		SET status = $1, active_ride_id = NULL, updated_at = now()
		WHERE driver_id = $2
	`, next.String(), driverID)
	return err
}

// Reserve takes an ONLINE driver for one ride's offer. The status check and
// the write are a single conditional UPDATE, so two dispatch cycles racing
// for the same driver cannot both succeed; only a same-ride repeat is
// idempotent.
func (repo *DriverPresenceRepo) Reserve(ctx context.Context, driverID, rideID string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE driver_presence
		SET status = $1, active_ride_id = $2, updated_at = now()
		WHERE driver_id = $3
		  AND (status = $4 OR (status = $1 AND active_ride_id = $2))
	`, driver.StatusOffered.String(), rideID, driverID, driver.StatusOnline.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := repo.GetByID(ctx, driverID); err != nil {
			return err
		}
		return driver.ErrDriverUnavailable
	}

	return nil
}

// CommitBusy converts a ride-scoped reservation into the assignment.
func (repo *DriverPresenceRepo) CommitBusy(ctx context.Context, driverID, rideID string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE driver_presence
		SET status = $1, updated_at = now()
		WHERE driver_id = $2
		  AND active_ride_id = $3
		  AND status IN ($4, $1)
	`, driver.StatusBusy.String(), driverID, rideID, driver.StatusOffered.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := repo.GetByID(ctx, driverID); err != nil {
			return err
		}
		return driver.ErrDriverUnavailable
	}

	return nil
}

// Release returns an OFFERED or BUSY driver to ONLINE and clears the ride
// association. A driver who holds nothing stays as they are.
func (repo *DriverPresenceRepo) Release(ctx context.Context, driverID string) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE driver_presence
		SET status = $1, active_ride_id = NULL, updated_at = now()
		WHERE driver_id = $2 AND status IN ($3, $4)
	`,
		driver.StatusOnline.String(),
		driverID,
		driver.StatusOffered.String(),
		driver.StatusBusy.String(),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := repo.GetByID(ctx, driverID); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

// ForceBusy overwrites status and ride association unconditionally. Only the
// reconciliation sweep uses this; it repairs drivers whose registry state
// drifted from the ride store after a crash.
func (repo *DriverPresenceRepo) ForceBusy(ctx context.Context, driverID, rideID string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE driver_presence
		SET status = $1, active_ride_id = $2, updated_at = now()
		WHERE driver_id = $3
	`, driver.StatusBusy.String(), rideID, driverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return driver.ErrDriverNotFound
	}

	return nil
}

// Heartbeat refreshes last_heartbeat without moving the position.
func (repo *DriverPresenceRepo) Heartbeat(ctx context.Context, driverID string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE driver_presence
		SET last_heartbeat = now(), updated_at = now()
		WHERE driver_id = $1
	`, driverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return driver.ErrDriverNotFound
	}

	return nil
}

// ExpireStale forces drivers whose heartbeat predates the cutoff to OFFLINE
// and returns their ids so the caller can evict them from the geo index.
// Drivers in BUSY are spared: an active trip outlives a flaky connection.
func (repo *DriverPresenceRepo) ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE driver_presence
		SET status = $1, updated_at = now()
		WHERE last_heartbeat < $2
		  AND status IN ($3, $4)
		RETURNING driver_id
	`,
		driver.StatusOffline.String(),
		cutoff,
		driver.StatusOnline.String(),
		driver.StatusOffered.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("expire stale presences: %w", err)
	}
	defer rows.Close()

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		expired = append(expired, id)
	}
	return expired, rows.Err()
}

func scanPresence(row pgx.Row) (*driver.Presence, error) {
	var (
		out          driver.Presence
		vehicleType  string
		status       string
		activeRideID *string
	)

	err := row.Scan(
		&out.DriverID, &vehicleType, &status, &activeRideID,
		&out.Location.Latitude, &out.Location.Longitude, &out.Location.LocatedAt,
		&out.LastHeartbeat, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	out.VehicleType = ride.VehicleType(vehicleType)
	out.Status = driver.Status(status)
	if activeRideID != nil {
		out.ActiveRideID = *activeRideID
	}
	return &out, nil
}
