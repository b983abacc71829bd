package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// UserRepository defines persistence access for accounts: end-users and the
// moderator/admin directory the assignment resolver queries.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateByEmail(ctx context.Context, email string, role domain.UserRole, skills []string) error
	List(ctx context.Context, limit, offset int) ([]domain.User, error)
	FindModeratorsBySkills(ctx context.Context, skills []string) ([]domain.User, error)
	FindFirstAdmin(ctx context.Context) (*domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (email, password_hash, role, skills)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Skills,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `
        SELECT id, email, password_hash, role, skills, created_at, updated_at
        FROM users WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `
        SELECT id, email, password_hash, role, skills, created_at, updated_at
        FROM users WHERE email=$1`
	return r.fetchSingle(ctx, query, email)
}

// UpdateByEmail changes role and skills. An empty skills slice keeps the
// stored skills.
func (r *userRepository) UpdateByEmail(ctx context.Context, email string, role domain.UserRole, skills []string) error {
	const query = `
        UPDATE users
        SET role=$1,
            skills=CASE WHEN cardinality($2::text[]) > 0 THEN $2::text[] ELSE skills END,
            updated_at=NOW()
        WHERE email=$3`

	cmd, err := r.pool.Exec(ctx, query, role, skills, email)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	const query = `
        SELECT id, email, password_hash, role, skills, created_at, updated_at
        FROM users ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, normalizeLimit(limit), normalizeOffset(offset))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// FindModeratorsBySkills returns moderators whose skills overlap the given
// set, ordered by id so the caller's first-match selection is deterministic.
func (r *userRepository) FindModeratorsBySkills(ctx context.Context, skills []string) ([]domain.User, error) {
	const query = `
        SELECT id, email, password_hash, role, skills, created_at, updated_at
        FROM users WHERE role=$1 AND skills && $2
        ORDER BY id`
	rows, err := r.pool.Query(ctx, query, domain.UserRoleModerator, skills)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *userRepository) FindFirstAdmin(ctx context.Context) (*domain.User, error) {
	const query = `
        SELECT id, email, password_hash, role, skills, created_at, updated_at
        FROM users WHERE role=$1 ORDER BY id LIMIT 1`
	return r.fetchSingle(ctx, query, domain.UserRoleAdmin)
}

func (r *userRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Skills,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

func scanUsers(rows pgx.Rows) ([]domain.User, error) {
	var result []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.PasswordHash,
			&user.Role,
			&user.Skills,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}
