package app

import "fmt"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は認証APIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れOTPの定期削除ワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はusers・otps・credentialsのマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。未知のサブコマンドはエラーにする。
// 2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck:
		return cmd, nil
	default:
		return "", fmt.Errorf("unknown command %q (want serve, worker, migrate or healthcheck)", args[0])
	}
}
