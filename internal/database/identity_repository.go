package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citysense/citysense/internal/domain"
)

// IdentityRepo implements domain.IdentityResolver against the users and
// roles tables.
type IdentityRepo struct {
	pool *pgxpool.Pool
}

func NewIdentityRepo(pool *pgxpool.Pool) *IdentityRepo {
	return &IdentityRepo{pool: pool}
}

func (r *IdentityRepo) Resolve(ctx context.Context, token string) (domain.Identity, error) {
	var identity domain.Identity
	err := r.pool.QueryRow(ctx, `
		SELECT u.id, r.name
		FROM users u JOIN roles r ON r.id = u.role_id
		WHERE u.api_token = $1`, token,
	).Scan(&identity.UserID, &identity.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Identity{}, domain.ErrIdentityNotFound
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to resolve identity: %w", err)
	}
	return identity, nil
}
