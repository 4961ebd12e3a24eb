package discord

import (
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
)

// headerCacheSize は認証ヘッダーキャッシュの最大エントリ数。
const headerCacheSize = 32

// headerCache はアクセストークンごとの認証ヘッダーを保持するLRUキャッシュ。
// 並行アクセスに対して安全で、キーはアクセストークンの値そのもの。
type headerCache struct {
	userAgent string
	cache     *lru.Cache[string, http.Header]
}

func newHeaderCache(userAgent string) *headerCache {
	// サイズが正の定数のためエラーにならない
	cache, _ := lru.New[string, http.Header](headerCacheSize)
	return &headerCache{userAgent: userAgent, cache: cache}
}

// get はアクセストークンに対応する認証ヘッダーを返す。
// 返されたヘッダーは共有されるため、呼び出し元は変更してはならない。
func (c *headerCache) get(accessToken string) http.Header {
	if h, ok := c.cache.Get(accessToken); ok {
		return h
	}

	h := http.Header{}
	h.Set("User-Agent", c.userAgent)
	h.Set("Authorization", "Bearer "+accessToken)
	c.cache.Add(accessToken, h)
	return h
}

// len は現在のエントリ数を返す。
func (c *headerCache) len() int {
	return c.cache.Len()
}
