// Command icantchat はDiscordアカウント連携とニックネーム変更を提供するサーバーを起動する。
//
//	icantchat [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/icantchat/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "icantchat: %v\n", err)
		os.Exit(1)
	}
}
