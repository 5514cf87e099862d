// Command captionly はCaptionly AIのAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	captionly [serve|worker|migrate|healthcheck]
package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/hitoshi/captionly/internal/app"
)

func main() {
	// ローカル開発用。.envがなければ環境変数のみを使う
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn(".envの読み込みに失敗しました", slog.String("error", err.Error()))
	}

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
