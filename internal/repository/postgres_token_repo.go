package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/icantchat/internal/model"
)

const tokenColumns = `t.id, t.access_token, t.token_type, t.issued_at, t.ttl_seconds, t.refresh_token, t.scope, t.redirect_uri`

// PostgresTokenRepo はPostgreSQLを使用したトークンリポジトリ。
// TTLは秒単位で保存する。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// FindByID は指定IDのトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresTokenRepo) FindByID(ctx context.Context, id string) (*model.Token, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens t WHERE t.id = $1`,
		id,
	)
	token, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find token by ID: %w", err)
	}
	return token, nil
}

// FindByAccessToken はアクセストークン文字列でトークンを検索する。見つからない場合はnilを返す。
func (r *PostgresTokenRepo) FindByAccessToken(ctx context.Context, accessToken string) (*model.Token, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens t WHERE t.access_token = $1`,
		accessToken,
	)
	token, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find token by access token: %w", err)
	}
	return token, nil
}

// FindByExternalUserID はDiscordユーザーIDに紐付いたトークンを取得する。
func (r *PostgresTokenRepo) FindByExternalUserID(ctx context.Context, externalUserID string) (*model.Token, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+`
		 FROM tokens t
		 INNER JOIN identities i ON i.token_id = t.id
		 WHERE i.external_user_id = $1`,
		externalUserID,
	)
	token, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find token by external user ID: %w", err)
	}
	return token, nil
}

// GetOrCreate はアクセストークンをキーにトークンを取得、なければ作成する。
// 作成した場合はtrueを返す。既存レコードがあった場合はtokenを既存の値で上書きする。
func (r *PostgresTokenRepo) GetOrCreate(ctx context.Context, token *model.Token) (bool, error) {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}

	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO tokens (id, access_token, token_type, issued_at, ttl_seconds, refresh_token, scope, redirect_uri)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (access_token) DO NOTHING
		 RETURNING id`,
		token.ID, token.AccessToken, token.TokenType, token.IssuedAt, ttlSeconds(token.TTL),
		token.RefreshToken, token.Scope, token.RedirectURI,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to insert token: %w", err)
	}

	existing, err := r.FindByAccessToken(ctx, token.AccessToken)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("token vanished after conflict: %s", token.MaskedAccessToken())
	}
	*token = *existing
	return false, nil
}

// UpdateRefreshed はpreviousAccessTokenが現在値と一致する場合に限りトークンを更新する。
// 他のリフレッシュが先行していた場合はfalseを返し、何も書き込まない。
func (r *PostgresTokenRepo) UpdateRefreshed(ctx context.Context, token *model.Token, previousAccessToken string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tokens
		 SET access_token = $2,
		     token_type = $3,
		     issued_at = $4,
		     ttl_seconds = $5,
		     refresh_token = $6,
		     scope = $7
		 WHERE id = $1 AND access_token = $8`,
		token.ID, token.AccessToken, token.TokenType, token.IssuedAt, ttlSeconds(token.TTL),
		token.RefreshToken, token.Scope, previousAccessToken,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update refreshed token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func ttlSeconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// scanToken は1行をTokenに変換する。行が存在しない場合はnilを返す。
func scanToken(row *sql.Row) (*model.Token, error) {
	var (
		token model.Token
		ttl   int64
	)
	err := row.Scan(&token.ID, &token.AccessToken, &token.TokenType, &token.IssuedAt,
		&ttl, &token.RefreshToken, &token.Scope, &token.RedirectURI)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	token.TTL = time.Duration(ttl) * time.Second
	return &token, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
