package repository

import (
	"context"
	"time"

	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	authdomain "github.com/spendlog/backend/internal/auth/domain"
	"github.com/spendlog/backend/internal/common/constants"
	"github.com/spendlog/backend/internal/common/db"
)

// RefreshTokenTx is the transactional view the rotation engine works
// against. FindByTokenHashForUpdate takes a row lock, so concurrent
// presentations of the same token serialize here.
type RefreshTokenTx interface {
	FindByTokenHashForUpdate(ctx context.Context, hash string) (authdomain.RefreshToken, error)
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error
	Create(ctx context.Context, token authdomain.RefreshToken) error
	RevokeFamily(ctx context.Context, familyID string) error
	CountDistinctAgentsInFamily(ctx context.Context, familyID string) (int, error)
	CountRecentInFamily(ctx context.Context, familyID string, since time.Time) (int, error)
}

type RefreshTokenTxManagerInterface interface {
	WithTx(ctx context.Context, fn func(context.Context, RefreshTokenTx) error) error
}

type RefreshTokenTxManager struct {
	pool *pgxpool.Pool
}

func NewRefreshTokenTxManager(pool *pgxpool.Pool) *RefreshTokenTxManager {
	return &RefreshTokenTxManager{pool: pool}
}

// WithTx commits when fn returns nil and rolls back otherwise. Decision
// outcomes that must persist (theft revocations) are recorded by the caller
// outside the returned error, so fn returns nil for them.
func (m *RefreshTokenTxManager) WithTx(ctx context.Context, fn func(context.Context, RefreshTokenTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	refreshTokenTx := &pgRefreshTokenTx{tx: tx}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(ctx, refreshTokenTx)
	return err
}

type pgRefreshTokenTx struct {
	tx pgx.Tx
}

func (t *pgRefreshTokenTx) FindByTokenHashForUpdate(ctx context.Context, hash string) (authdomain.RefreshToken, error) {
	start := time.Now()
	row := t.tx.QueryRow(
		ctx,
		`SELECT `+refreshTokenColumns+`
		 FROM refresh_tokens
		 WHERE token_hash = $1
		 FOR UPDATE`,
		hash,
	)

	token, err := scanRefreshToken(row)
	if err := db.HandleQueryError(err, ErrRefreshTokenNotFound, "find refresh token in tx", start); err != nil {
		return authdomain.RefreshToken{}, err
	}
	return token, nil
}

func (t *pgRefreshTokenTx) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	start := time.Now()
	_, err := t.tx.Exec(
		ctx,
		`UPDATE refresh_tokens SET is_used = TRUE, used_at = $2 WHERE id = $1`,
		id,
		usedAt,
	)
	return db.HandleExecError(err, "mark refresh token used in tx", start)
}

func (t *pgRefreshTokenTx) Create(ctx context.Context, token authdomain.RefreshToken) error {
	start := time.Now()
	_, err := t.tx.Exec(
		ctx,
		`INSERT INTO refresh_tokens
		 (id, token_hash, user_id, family_id, expires_at, is_used, is_revoked, created_at, used_at, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		token.ID,
		token.TokenHash,
		token.UserID,
		token.FamilyID,
		token.ExpiresAt,
		token.IsUsed,
		token.IsRevoked,
		token.CreatedAt,
		token.UsedAt,
		token.IPAddress,
		token.UserAgent,
	)
	return db.HandleExecError(err, "create refresh token in tx", start)
}

func (t *pgRefreshTokenTx) RevokeFamily(ctx context.Context, familyID string) error {
	start := time.Now()
	_, err := t.tx.Exec(
		ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE WHERE family_id = $1`,
		familyID,
	)
	return db.HandleExecError(err, "revoke refresh token family in tx", start)
}

func (t *pgRefreshTokenTx) CountDistinctAgentsInFamily(ctx context.Context, familyID string) (int, error) {
	start := time.Now()
	row := t.tx.QueryRow(
		ctx,
		`SELECT COUNT(DISTINCT user_agent) FROM refresh_tokens WHERE family_id = $1`,
		familyID,
	)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, db.HandleQueryError(err, nil, "count distinct agents in family in tx", start)
	}
	db.MeasureQueryDuration("count distinct agents in family in tx", start)
	return count, nil
}

func (t *pgRefreshTokenTx) CountRecentInFamily(ctx context.Context, familyID string, since time.Time) (int, error) {
	start := time.Now()
	row := t.tx.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE family_id = $1 AND created_at > $2`,
		familyID,
		since,
	)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, db.HandleQueryError(err, nil, "count recent tokens in family in tx", start)
	}
	db.MeasureQueryDuration("count recent tokens in family in tx", start)
	return count, nil
}
