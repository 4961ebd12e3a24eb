package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモード。引数なしの場合もこのモードで起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れトークンとセッションを掃除するワーカーモード。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージ内からAPIサーバーの/healthを確認する。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示して終了する。
	CommandHelp Command = "help"
)

// commands はサブコマンドの一覧と説明。usageの表示順を兼ねる。
var commands = []struct {
	cmd     Command
	aliases []string
	summary string
}{
	{CommandServe, nil, "HTTP APIサーバーを起動する（デフォルト）"},
	{CommandWorker, nil, "トークン/セッションのクリーンアップを定期実行する"},
	{CommandMigrate, nil, "データベースマイグレーションを適用する"},
	{CommandHealthcheck, nil, "ローカルのAPIサーバーのヘルスチェックを行う"},
	{CommandHelp, []string{"-h", "--help"}, "この使い方を表示する"},
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 2番目以降の引数は無視する。引数が空または未知のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	for _, c := range commands {
		if args[0] == string(c.cmd) {
			return c.cmd
		}
		for _, alias := range c.aliases {
			if args[0] == alias {
				return c.cmd
			}
		}
	}
	return CommandServe
}

// writeUsage はサブコマンドの一覧をwに出力する。
func writeUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: icantchat [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.summary)
	}
}
