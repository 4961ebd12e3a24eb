package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/icantchat/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM accounts WHERE id = $1`,
		id,
	).Scan(&account.ID, &account.Username, &account.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}

	return account, nil
}

// CreateWithIdentity はアカウントとidentityを同一トランザクションで作成する。
// identityはトークン未紐付けの状態で作成され、Bindで後から紐付ける。
func (r *PostgresAccountRepo) CreateWithIdentity(ctx context.Context, account *model.Account, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, username, created_at)
		 VALUES ($1, $2, $3)`,
		account.ID, account.Username, account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, account_id, external_user_id, display_name, avatar_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		identity.ID, identity.AccountID, nullString(identity.ExternalUserID),
		identity.DisplayName, identity.AvatarHash, identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// nullString は空文字をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
