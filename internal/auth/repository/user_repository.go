package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	authdomain "github.com/spendlog/backend/internal/auth/domain"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailAlreadyExists = errors.New("email already exists")
)

type UserRepository interface {
	Create(ctx context.Context, user authdomain.User) error
	FindByEmail(ctx context.Context, email string) (authdomain.User, error)
	FindByID(ctx context.Context, id authdomain.UserID) (authdomain.User, error)
	UpdatePasswordHash(ctx context.Context, id authdomain.UserID, hash string) error
}

type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) Create(ctx context.Context, user authdomain.User) error {
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO users (id, email, password_hash, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
		string(user.ID),
		user.Email,
		user.PasswordHash,
		user.Role,
		user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (authdomain.User, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE email = $1`,
		email,
	)

	var user authdomain.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authdomain.User{}, ErrUserNotFound
		}
		return authdomain.User{}, fmt.Errorf("failed to find user by email: %w", err)
	}

	return user, nil
}

func (r *PgUserRepository) FindByID(ctx context.Context, id authdomain.UserID) (authdomain.User, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE id = $1`,
		string(id),
	)

	var user authdomain.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authdomain.User{}, ErrUserNotFound
		}
		return authdomain.User{}, fmt.Errorf("failed to find user by id: %w", err)
	}

	return user, nil
}

func (r *PgUserRepository) UpdatePasswordHash(ctx context.Context, id authdomain.UserID, hash string) error {
	res, err := r.pool.Exec(
		ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`,
		string(id),
		hash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
