// Command packmart は包装資材B2Bマーケットプレイスのバックエンド(BFF)を起動する。
//
// サブコマンド:
//
//	serve        APIサーバーを起動する（デフォルト）
//	migrate      プラットフォームスキーマのマイグレーションを実行する
//	healthcheck  起動中のサーバーの /health を確認する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/packmart/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "packmart: %v\n", err)
		os.Exit(1)
	}
}
