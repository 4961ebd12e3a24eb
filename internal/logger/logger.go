// Package logger は構造化ログ（log/slog）の初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options はログ出力の設定。
type Options struct {
	Level  string // debug, info, warn, error（不明な値はinfo）
	Format string // json, text（不明な値はjson）
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	return New(w, Options{})
}

// New はOptionsに従ったslog.Loggerを生成して返す。
func New(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	ConfigureDefault(w, Options{})
}

// ConfigureDefault はOptionsに従ったロガーをグローバルロガーとして設定する。
// 設定読み込み後にレベルとフォーマットを反映するために使う。
func ConfigureDefault(w io.Writer, opts Options) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(New(w, opts))
}
