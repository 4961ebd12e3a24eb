package model

import "time"

// UsernameChange はDiscord側で確定したニックネーム変更の監査レコード。
// 永続化後は更新も削除もしない。
type UsernameChange struct {
	ID         string
	IdentityID string
	Text       string
	SentAt     time.Time
}
