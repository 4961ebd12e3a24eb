package discord

import "strings"

const cdnBaseURL = "https://cdn.discordapp.com/"

// AvatarURL はDiscordユーザーIDとアバターハッシュからアバター画像のURLを生成する。
// どちらかが空の場合はデフォルトアバターを返す。
// "a_"で始まるハッシュはアニメーションアバターのためgifとする。
func AvatarURL(userID, avatarHash string) string {
	if userID == "" || avatarHash == "" {
		return cdnBaseURL + "embed/avatars/0.png"
	}

	ext := "png"
	if strings.HasPrefix(avatarHash, "a_") {
		ext = "gif"
	}
	return cdnBaseURL + "avatars/" + userID + "/" + avatarHash + "." + ext
}
