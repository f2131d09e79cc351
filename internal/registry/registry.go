// Package registry is the authoritative record store for licenses and
// device activations. All quota mutations run inside transactions that
// lock the license row, so concurrent activations cannot both pass a
// stale quota read.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parallaxhq/license-server/internal/license"
)

type Registry struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

const licenseColumns = `id, key, email, tier, status, max_activations, current_activations, expires_at, features, created_at`

func scanLicense(row pgx.Row) (*license.License, error) {
	var l license.License
	err := row.Scan(&l.ID, &l.Key, &l.Email, &l.Tier, &l.Status,
		&l.MaxActivations, &l.CurrentActivations, &l.ExpiresAt, &l.Features, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("scan license: %w", err)
	}
	return &l, nil
}

// CreateLicense persists a freshly minted license.
func (r *Registry) CreateLicense(ctx context.Context, l *license.License) (*license.License, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO licenses (key, email, tier, status, max_activations, current_activations, expires_at, features)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
		RETURNING `+licenseColumns,
		l.Key, l.Email, l.Tier, license.StatusActive, l.MaxActivations, l.ExpiresAt, l.Features)

	created, err := scanLicense(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("create license: %w", err)
	}
	return created, nil
}

func (r *Registry) GetLicenseByKey(ctx context.Context, key string) (*license.License, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE key = $1`, key)
	return scanLicense(row)
}

func (r *Registry) ListLicenses(ctx context.Context, limit, offset int) ([]license.License, int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+licenseColumns+` FROM licenses
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var result []license.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM licenses`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count licenses: %w", err)
	}
	return result, total, nil
}

// SetLicenseStatus transitions a license. Revoked is terminal: no
// transition leads out of it, so a revoked license can never be resumed
// into a stranded active-with-full-quota state. Revocation cascades over
// the license's active activations, marking them deactivated without
// touching current_activations: a revoked license cannot activate again,
// and the historical quota stays visible in the record.
func (r *Registry) SetLicenseStatus(ctx context.Context, key string, status license.Status) (*license.License, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status transition: %w", err)
	}
	defer tx.Rollback(ctx)

	var current license.Status
	err = tx.QueryRow(ctx, `
		SELECT status FROM licenses WHERE key = $1 FOR UPDATE`, key).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("lock license row: %w", err)
	}

	if !validTransition(current, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	row := tx.QueryRow(ctx, `
		UPDATE licenses SET status = $2 WHERE key = $1
		RETURNING `+licenseColumns, key, status)
	l, err := scanLicense(row)
	if err != nil {
		return nil, err
	}

	if status == license.StatusRevoked {
		_, err = tx.Exec(ctx, `
			UPDATE activations SET status = $2, deactivated_at = now()
			WHERE license_id = $1 AND status = $3`,
			l.ID, license.ActivationDeactivated, license.ActivationActive)
		if err != nil {
			return nil, fmt.Errorf("cascade revocation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status transition: %w", err)
	}
	return l, nil
}

// validTransition encodes the status lattice: suspend and resume toggle
// between active and suspended, revoke is reachable from anywhere, and
// nothing leaves revoked. Same-status writes are idempotent no-ops.
func validTransition(from, to license.Status) bool {
	if from == to {
		return true
	}
	switch to {
	case license.StatusRevoked:
		return true
	case license.StatusActive:
		return from == license.StatusSuspended
	case license.StatusSuspended:
		return from == license.StatusActive
	}
	return false
}

// MarkLicenseExpired applies the lazy expiry transition.
func (r *Registry) MarkLicenseExpired(ctx context.Context, licenseID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE licenses SET status = $2 WHERE id = $1 AND status = $3`,
		licenseID, license.StatusExpired, license.StatusActive)
	if err != nil {
		return fmt.Errorf("mark license expired: %w", err)
	}
	return nil
}

const activationColumns = `id, license_id, token, machine_fingerprint, status, activated_at, last_validated_at, deactivated_at`

func scanActivation(row pgx.Row) (*license.Activation, error) {
	var a license.Activation
	err := row.Scan(&a.ID, &a.LicenseID, &a.Token, &a.MachineFingerprint,
		&a.Status, &a.ActivatedAt, &a.LastValidatedAt, &a.DeactivatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActivationNotFound
		}
		return nil, fmt.Errorf("scan activation: %w", err)
	}
	return &a, nil
}

func (r *Registry) FindActiveActivation(ctx context.Context, licenseID, fingerprint string) (*license.Activation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+activationColumns+` FROM activations
		WHERE license_id = $1 AND machine_fingerprint = $2 AND status = $3`,
		licenseID, fingerprint, license.ActivationActive)
	return scanActivation(row)
}

// GetActivationByToken resolves a token together with its parent license.
func (r *Registry) GetActivationByToken(ctx context.Context, token string) (*license.Activation, *license.License, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+activationColumns+` FROM activations WHERE token = $1`, token)
	a, err := scanActivation(row)
	if err != nil {
		return nil, nil, err
	}

	row = r.pool.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, a.LicenseID)
	l, err := scanLicense(row)
	if err != nil {
		return nil, nil, err
	}
	return a, l, nil
}

func (r *Registry) TouchActivation(ctx context.Context, activationID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE activations SET last_validated_at = $2 WHERE id = $1`, activationID, at)
	if err != nil {
		return fmt.Errorf("touch activation: %w", err)
	}
	return nil
}

// ReserveSlot consumes one activation slot inside a single transaction.
// The license row is locked first, then status, same-fingerprint
// idempotency and quota are re-checked under the lock, so two concurrent
// activations against one remaining slot yield exactly one success.
func (r *Registry) ReserveSlot(ctx context.Context, licenseID, fingerprint, token string, at time.Time) (*license.Activation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin slot reservation: %w", err)
	}
	defer tx.Rollback(ctx)

	var status license.Status
	var maxAct, curAct int
	err = tx.QueryRow(ctx, `
		SELECT status, max_activations, current_activations
		FROM licenses WHERE id = $1 FOR UPDATE`, licenseID).Scan(&status, &maxAct, &curAct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("lock license row: %w", err)
	}

	if status != license.StatusActive {
		return nil, ErrLicenseNotActive
	}

	// Re-check idempotency under the lock: a concurrent call from the
	// same fingerprint may have inserted between the caller's read and
	// this transaction.
	row := tx.QueryRow(ctx, `
		SELECT `+activationColumns+` FROM activations
		WHERE license_id = $1 AND machine_fingerprint = $2 AND status = $3`,
		licenseID, fingerprint, license.ActivationActive)
	existing, err := scanActivation(row)
	if err == nil {
		if _, terr := tx.Exec(ctx, `
			UPDATE activations SET last_validated_at = $2 WHERE id = $1`, existing.ID, at); terr != nil {
			return nil, fmt.Errorf("refresh existing activation: %w", terr)
		}
		existing.LastValidatedAt = at
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit slot reservation: %w", err)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrActivationNotFound) {
		return nil, err
	}

	if curAct >= maxAct {
		return nil, ErrLimitReached
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO activations (license_id, token, machine_fingerprint, status, activated_at, last_validated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING `+activationColumns,
		licenseID, token, fingerprint, license.ActivationActive, at)
	created, err := scanActivation(row)
	if err != nil {
		return nil, fmt.Errorf("insert activation: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE licenses SET current_activations = current_activations + 1
		WHERE id = $1`, licenseID); err != nil {
		return nil, fmt.Errorf("increment activation count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit slot reservation: %w", err)
	}
	return created, nil
}

// ReleaseSlot deactivates a matching active activation and frees its slot,
// floored at zero to defend against duplicate concurrent deactivations.
func (r *Registry) ReleaseSlot(ctx context.Context, token, fingerprint string, at time.Time) (*license.Activation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin slot release: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+activationColumns+` FROM activations
		WHERE token = $1 AND machine_fingerprint = $2 AND status = $3
		FOR UPDATE`, token, fingerprint, license.ActivationActive)
	a, err := scanActivation(row)
	if err != nil {
		return nil, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE activations SET status = $2, deactivated_at = $3 WHERE id = $1
		RETURNING `+activationColumns, a.ID, license.ActivationDeactivated, at)
	a, err = scanActivation(row)
	if err != nil {
		return nil, fmt.Errorf("deactivate activation: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE licenses SET current_activations = GREATEST(current_activations - 1, 0)
		WHERE id = $1`, a.LicenseID); err != nil {
		return nil, fmt.Errorf("decrement activation count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit slot release: %w", err)
	}
	return a, nil
}
