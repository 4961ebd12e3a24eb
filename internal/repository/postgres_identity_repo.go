package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/icantchat/internal/model"
)

const identityColumns = `id, account_id, external_user_id, display_name, avatar_hash, token_id, created_at, updated_at`

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByExternalUserID はDiscordユーザーIDでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByExternalUserID(ctx context.Context, externalUserID string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE external_user_id = $1`,
		externalUserID,
	)
	identity, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by external user ID: %w", err)
	}
	return identity, nil
}

// FindByAccountID はアカウントIDでidentityを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByAccountID(ctx context.Context, accountID string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE account_id = $1`,
		accountID,
	)
	identity, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by account ID: %w", err)
	}
	return identity, nil
}

// FindByTokenID は指定トークンを保持しているidentityを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByTokenID(ctx context.Context, tokenID string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE token_id = $1`,
		tokenID,
	)
	identity, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by token ID: %w", err)
	}
	return identity, nil
}

// Bind はidentityのトークン参照とプロフィール情報を更新する。
// staleTokenIDが指定された場合は、同一トランザクション内で先にトークンを削除する。
// external_user_idは未設定の場合のみ書き込み、以降は変更しない。
func (r *PostgresIdentityRepo) Bind(ctx context.Context, identity *model.Identity, staleTokenID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if staleTokenID != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE id = $1`, staleTokenID); err != nil {
			return fmt.Errorf("failed to delete stale token: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE identities
		 SET token_id = $2,
		     external_user_id = COALESCE(external_user_id, $3),
		     display_name = $4,
		     avatar_hash = $5,
		     updated_at = $6
		 WHERE id = $1`,
		identity.ID, nullString(identity.TokenID), nullString(identity.ExternalUserID),
		identity.DisplayName, identity.AvatarHash, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identity not found: %s", identity.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// scanIdentity は1行をIdentityに変換する。行が存在しない場合はnilを返す。
func scanIdentity(row *sql.Row) (*model.Identity, error) {
	var (
		identity       model.Identity
		externalUserID sql.NullString
		displayName    sql.NullString
		avatarHash     sql.NullString
		tokenID        sql.NullString
	)
	err := row.Scan(&identity.ID, &identity.AccountID, &externalUserID, &displayName,
		&avatarHash, &tokenID, &identity.CreatedAt, &identity.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	identity.ExternalUserID = externalUserID.String
	identity.DisplayName = displayName.String
	identity.AvatarHash = avatarHash.String
	identity.TokenID = tokenID.String
	return &identity, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
