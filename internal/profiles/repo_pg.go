package profiles

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const profileColumns = `user_id, subscription_status, subscription_plan, upload_count, stripe_customer_id, created_at, updated_at`

func (r *PGRepo) Get(ctx context.Context, userID string) (Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`
	return scanProfile(r.DB.QueryRowContext(ctx, query, userID))
}

func (r *PGRepo) Ensure(ctx context.Context, userID string) (Profile, error) {
	const insert = `
INSERT INTO profiles (user_id, subscription_status, subscription_plan, upload_count, created_at, updated_at)
VALUES ($1, 'inactive', 'free', 0, now(), now())
ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.DB.ExecContext(ctx, insert, userID); err != nil {
		return Profile{}, err
	}
	return r.Get(ctx, userID)
}

func (r *PGRepo) UpsertSubscription(ctx context.Context, userID, customerRef string, status Status, plan Plan) error {
	const query = `
INSERT INTO profiles (user_id, subscription_status, subscription_plan, stripe_customer_id, upload_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, now(), now())
ON CONFLICT (user_id) DO UPDATE SET
  subscription_status = EXCLUDED.subscription_status,
  subscription_plan = EXCLUDED.subscription_plan,
  stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, profiles.stripe_customer_id),
  updated_at = now()`
	_, err := r.DB.ExecContext(ctx, query, userID, string(status), string(plan), nullableString(customerRef))
	return err
}

func (r *PGRepo) FindByCustomerRef(ctx context.Context, customerRef string) (Profile, error) {
	if customerRef == "" {
		return Profile{}, ErrNotFound
	}
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE stripe_customer_id = $1 ORDER BY updated_at DESC, user_id LIMIT 1`
	return scanProfile(r.DB.QueryRowContext(ctx, query, customerRef))
}

func (r *PGRepo) SetStatus(ctx context.Context, userID string, status Status) error {
	const query = `
INSERT INTO profiles (user_id, subscription_status, subscription_plan, upload_count, created_at, updated_at)
VALUES ($1, $2, 'free', 0, now(), now())
ON CONFLICT (user_id) DO UPDATE SET subscription_status = EXCLUDED.subscription_status, updated_at = now()`
	_, err := r.DB.ExecContext(ctx, query, userID, string(status))
	return err
}

func (r *PGRepo) AdjustUploadCount(ctx context.Context, userID string, delta int) error {
	const query = `
INSERT INTO profiles (user_id, subscription_status, subscription_plan, upload_count, created_at, updated_at)
VALUES ($1, 'inactive', 'free', GREATEST(0, $2), now(), now())
ON CONFLICT (user_id) DO UPDATE SET upload_count = GREATEST(0, profiles.upload_count + $2), updated_at = now()`
	_, err := r.DB.ExecContext(ctx, query, userID, delta)
	return err
}

func (r *PGRepo) SetUploadCount(ctx context.Context, userID string, count int) error {
	if count < 0 {
		count = 0
	}
	const query = `
UPDATE profiles SET upload_count = $2, updated_at = now()
WHERE user_id = $1`
	_, err := r.DB.ExecContext(ctx, query, userID, count)
	return err
}

func (r *PGRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var (
		p           Profile
		status      string
		plan        string
		customerRef sql.NullString
	)
	err := row.Scan(&p.UserID, &status, &plan, &p.UploadCount, &customerRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	p.Status = ParseStatus(status)
	p.Plan = ParsePlan(plan)
	if customerRef.Valid {
		p.CustomerRef = customerRef.String
	}
	return p, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var _ Repo = (*PGRepo)(nil)
