package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// StateSigner はOAuthのstateパラメータをSESSION_SECRETで署名・検証する。
// stateは "<nonce>.<signature>" の形式で、Cookieとクエリの両方に同じ値が載る。
type StateSigner struct {
	secret []byte
}

// NewStateSigner はStateSignerを生成する。
func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret)}
}

// Generate は署名付きのstateを生成する。
func (s *StateSigner) Generate() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(b)
	return nonce + "." + s.sign(nonce), nil
}

// Verify はstateの署名が正しいかを検証する。
func (s *StateSigner) Verify(state string) bool {
	nonce, sig, ok := strings.Cut(state, ".")
	if !ok || nonce == "" || sig == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.sign(nonce)))
}

func (s *StateSigner) sign(nonce string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
