package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/icantchat/internal/model"
)

// PostgresUsernameChangeRepo はPostgreSQLを使用したニックネーム変更履歴リポジトリ。
// 追記のみで、更新・削除は提供しない。
type PostgresUsernameChangeRepo struct {
	db *sql.DB
}

// NewPostgresUsernameChangeRepo はPostgresUsernameChangeRepoを生成する。
func NewPostgresUsernameChangeRepo(db *sql.DB) *PostgresUsernameChangeRepo {
	return &PostgresUsernameChangeRepo{db: db}
}

// Create は変更履歴を1件追加する。
func (r *PostgresUsernameChangeRepo) Create(ctx context.Context, change *model.UsernameChange) error {
	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO username_changes (id, identity_id, text, sent_at)
		 VALUES ($1, $2, $3, $4)`,
		change.ID, change.IdentityID, change.Text, change.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create username change: %w", err)
	}
	return nil
}

// ListByExternalUserID はDiscordユーザーIDの変更履歴をsent_at降順で最大limit件返す。
func (r *PostgresUsernameChangeRepo) ListByExternalUserID(ctx context.Context, externalUserID string, limit int) ([]*model.UsernameChange, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.identity_id, c.text, c.sent_at
		 FROM username_changes c
		 INNER JOIN identities i ON i.id = c.identity_id
		 WHERE i.external_user_id = $1
		 ORDER BY c.sent_at DESC
		 LIMIT $2`,
		externalUserID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list username changes: %w", err)
	}
	defer rows.Close()

	var changes []*model.UsernameChange
	for rows.Next() {
		c := &model.UsernameChange{}
		if err := rows.Scan(&c.ID, &c.IdentityID, &c.Text, &c.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan username change: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate username changes: %w", err)
	}
	return changes, nil
}

// compile-time interface check
var _ UsernameChangeRepository = (*PostgresUsernameChangeRepo)(nil)
