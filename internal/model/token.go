package model

import "time"

// Token はDiscordのOAuth2アクセストークン/リフレッシュトークンの組を表す。
// AccessTokenは一意で、永続化されたトークンのTTLは常に0以上となる。
type Token struct {
	ID           string
	AccessToken  string
	TokenType    string
	IssuedAt     time.Time // 永続化のたびに更新される
	TTL          time.Duration
	RefreshToken string
	Scope        string
	RedirectURI  string // リフレッシュ時にプロバイダーへ再送する
}

// ValidUntil はトークンの有効期限を返す。
func (t *Token) ValidUntil() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

// IsExpired はnow時点でトークンが期限切れかどうかを返す。
// now == ValidUntil の場合は期限切れとみなさない。
func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ValidUntil())
}

// MaskedAccessToken はログ出力用にマスクしたアクセストークンを返す。
func (t *Token) MaskedAccessToken() string {
	if len(t.AccessToken) <= 6 {
		return "***"
	}
	return t.AccessToken[:6] + "***"
}
