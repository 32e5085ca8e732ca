package repository

import (
	"context"
	"time"

	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	authdomain "github.com/spendlog/backend/internal/auth/domain"
	"github.com/spendlog/backend/internal/common/db"
)

type RefreshTokenRepository interface {
	Create(ctx context.Context, token authdomain.RefreshToken) error
	FindByTokenHash(ctx context.Context, hash string) (authdomain.RefreshToken, error)
	FindValidByUserID(ctx context.Context, userID string, now time.Time) ([]authdomain.RefreshToken, error)
	FindByFamilyID(ctx context.Context, familyID string) ([]authdomain.RefreshToken, error)
	CountActiveInFamily(ctx context.Context, familyID string, now time.Time) (int, error)
	CountDistinctAgentsInFamily(ctx context.Context, familyID string) (int, error)
	CountRecentInFamily(ctx context.Context, familyID string, since time.Time) (int, error)
	RevokeFamily(ctx context.Context, familyID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	TxManager() RefreshTokenTxManagerInterface
}

var ErrRefreshTokenNotFound = pgx.ErrNoRows

const refreshTokenColumns = `id, token_hash, user_id, family_id, expires_at,
	 is_used, is_revoked, created_at, used_at, ip_address, user_agent`

type PgRefreshTokenRepository struct {
	pool  *pgxpool.Pool
	txMgr *RefreshTokenTxManager
}

func NewPgRefreshTokenRepository(pool *pgxpool.Pool) *PgRefreshTokenRepository {
	return &PgRefreshTokenRepository{
		pool:  pool,
		txMgr: NewRefreshTokenTxManager(pool),
	}
}

func (r *PgRefreshTokenRepository) TxManager() RefreshTokenTxManagerInterface {
	return r.txMgr
}

func (r *PgRefreshTokenRepository) Create(ctx context.Context, token authdomain.RefreshToken) error {
	start := time.Now()
	_, err := r.pool.Exec(
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
	return db.HandleExecError(err, "create refresh token", start)
}

func (r *PgRefreshTokenRepository) FindByTokenHash(ctx context.Context, hash string) (authdomain.RefreshToken, error) {
	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+refreshTokenColumns+`
		 FROM refresh_tokens
		 WHERE token_hash = $1`,
		hash,
	)

	token, err := scanRefreshToken(row)
	if err := db.HandleQueryError(err, ErrRefreshTokenNotFound, "find refresh token", start); err != nil {
		return authdomain.RefreshToken{}, err
	}
	return token, nil
}

func (r *PgRefreshTokenRepository) FindValidByUserID(ctx context.Context, userID string, now time.Time) ([]authdomain.RefreshToken, error) {
	start := time.Now()
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+refreshTokenColumns+`
		 FROM refresh_tokens
		 WHERE user_id = $1 AND NOT is_used AND NOT is_revoked AND expires_at > $2
		 ORDER BY created_at`,
		userID,
		now,
	)
	if err != nil {
		return nil, db.HandleQueryError(err, nil, "find valid refresh tokens by user", start)
	}
	defer rows.Close()

	tokens, err := collectRefreshTokens(rows)
	if err != nil {
		return nil, db.HandleQueryError(err, nil, "find valid refresh tokens by user", start)
	}
	db.MeasureQueryDuration("find valid refresh tokens by user", start)
	return tokens, nil
}

func (r *PgRefreshTokenRepository) FindByFamilyID(ctx context.Context, familyID string) ([]authdomain.RefreshToken, error) {
	start := time.Now()
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+refreshTokenColumns+`
		 FROM refresh_tokens
		 WHERE family_id = $1
		 ORDER BY created_at`,
		familyID,
	)
	if err != nil {
		return nil, db.HandleQueryError(err, nil, "find refresh tokens by family", start)
	}
	defer rows.Close()

	tokens, err := collectRefreshTokens(rows)
	if err != nil {
		return nil, db.HandleQueryError(err, nil, "find refresh tokens by family", start)
	}
	db.MeasureQueryDuration("find refresh tokens by family", start)
	return tokens, nil
}

func (r *PgRefreshTokenRepository) CountActiveInFamily(ctx context.Context, familyID string, now time.Time) (int, error) {
	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM refresh_tokens
		 WHERE family_id = $1 AND NOT is_used AND NOT is_revoked AND expires_at > $2`,
		familyID,
		now,
	)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, db.HandleQueryError(err, nil, "count active tokens in family", start)
	}
	db.MeasureQueryDuration("count active tokens in family", start)
	return count, nil
}

func (r *PgRefreshTokenRepository) CountDistinctAgentsInFamily(ctx context.Context, familyID string) (int, error) {
	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(DISTINCT user_agent) FROM refresh_tokens WHERE family_id = $1`,
		familyID,
	)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, db.HandleQueryError(err, nil, "count distinct agents in family", start)
	}
	db.MeasureQueryDuration("count distinct agents in family", start)
	return count, nil
}

func (r *PgRefreshTokenRepository) CountRecentInFamily(ctx context.Context, familyID string, since time.Time) (int, error) {
	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE family_id = $1 AND created_at > $2`,
		familyID,
		since,
	)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, db.HandleQueryError(err, nil, "count recent tokens in family", start)
	}
	db.MeasureQueryDuration("count recent tokens in family", start)
	return count, nil
}

func (r *PgRefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	start := time.Now()
	_, err := r.pool.Exec(
		ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE WHERE family_id = $1`,
		familyID,
	)
	return db.HandleExecError(err, "revoke refresh token family", start)
}

func (r *PgRefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	res, err := r.pool.Exec(
		ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, db.HandleExecError(err, "delete expired refresh tokens", start)
	}
	db.MeasureQueryDuration("delete expired refresh tokens", start)
	return res.RowsAffected(), nil
}

func scanRefreshToken(row pgx.Row) (authdomain.RefreshToken, error) {
	var token authdomain.RefreshToken
	err := row.Scan(
		&token.ID,
		&token.TokenHash,
		&token.UserID,
		&token.FamilyID,
		&token.ExpiresAt,
		&token.IsUsed,
		&token.IsRevoked,
		&token.CreatedAt,
		&token.UsedAt,
		&token.IPAddress,
		&token.UserAgent,
	)
	return token, err
}

func collectRefreshTokens(rows pgx.Rows) ([]authdomain.RefreshToken, error) {
	var tokens []authdomain.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
