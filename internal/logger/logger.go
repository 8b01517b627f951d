// Package logger は構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup はJSON構造化ログのslog.Loggerを生成して返す。
// 出力レベルはLOG_LEVEL環境変数（debug / info / warn / error）で変更できる。
// 未設定または解釈できない値の場合はinfoで出力する。
func Setup(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: levelFromEnv(),
	}))
}

// SetupDefault はSetupのロガーをグローバルロガーとして設定する。
// wがnilの場合はos.Stdoutに出力する。本番の起動経路はnilを渡す。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

// levelFromEnv はLOG_LEVEL環境変数からログレベルを決定する。
func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
