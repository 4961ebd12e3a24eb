// Package username はDiscordのニックネーム変更ワークフローを提供する。
package username

import (
	"strings"

	validation "github.com/jellydator/validation"

	"github.com/hitoshi/icantchat/internal/model"
)

const (
	// MinLength はニックネームの最小文字数。
	MinLength = 2
	// MaxLength はニックネームの最大文字数。
	MaxLength = 32
)

// 検証エラーコード
const (
	ErrCodeLength    = "username_length"
	ErrCodeForbidden = "username_forbidden"
)

// ForbiddenSubstrings はニックネームに含めることができない文字列。大文字小文字は区別しない。
var ForbiddenSubstrings = []string{"everyone", "here", "discordtag", "@", "#", ":", "`"}

var lengthMessage = "ニックネームは2文字以上32文字以下で入力してください。"

var forbiddenMessage = "ニックネームに次の文字列を含めることはできません: '" +
	strings.Join(ForbiddenSubstrings, "', '") + "'。"

var noForbiddenSubstring = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	lower := strings.ToLower(s)
	for _, word := range ForbiddenSubstrings {
		if strings.Contains(lower, word) {
			return validation.NewError(ErrCodeForbidden, forbiddenMessage)
		}
	}
	return nil
})

// Validate はニックネームを検証する。
// 文字数（2〜32文字）を先に検査し、次に禁止文字列を検査する。
// 両方に違反する場合は文字数のエラーを返す。
func Validate(text string) error {
	if err := validation.Validate(text,
		validation.Required.Error(lengthMessage),
		validation.RuneLength(MinLength, MaxLength).Error(lengthMessage),
	); err != nil {
		return &model.ValidationError{Code: ErrCodeLength, Message: err.Error()}
	}

	if err := validation.Validate(text, noForbiddenSubstring); err != nil {
		return &model.ValidationError{Code: ErrCodeForbidden, Message: err.Error()}
	}
	return nil
}
