package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はトークンのクリーンアップを定期実行するワーカーモードを示す。
	CommandWorker Command = "worker"
	// CommandCleanup はトークンのクリーンアップを1回だけ実行する。cronなど外部スケジューラ用。
	CommandCleanup Command = "cleanup"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandCleanup):     CommandCleanup,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。未知のコマンドはエラーとする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return "", fmt.Errorf("unknown command %q (serve, worker, cleanup, migrate, healthcheck)", args[0])
	}
	return cmd, nil
}

// MigrateAction はmigrateサブコマンドの操作を表す。
type MigrateAction string

const (
	// MigrateUp は未適用のマイグレーションをすべて適用する。
	MigrateUp MigrateAction = "up"
	// MigrateDown は指定ステップ数だけロールバックする。
	MigrateDown MigrateAction = "down"
	// MigrateVersion は現在のスキーマバージョンを表示する。
	MigrateVersion MigrateAction = "version"
)

// ParseMigrateArgs は "migrate" に続く引数を解析する。
//
//	migrate            → up
//	migrate down [n]   → n件ロールバック（省略時は1）
//	migrate version
func ParseMigrateArgs(args []string) (MigrateAction, int, error) {
	if len(args) == 0 {
		return MigrateUp, 0, nil
	}

	switch MigrateAction(args[0]) {
	case MigrateUp:
		return MigrateUp, 0, nil
	case MigrateVersion:
		return MigrateVersion, 0, nil
	case MigrateDown:
		if len(args) < 2 {
			return MigrateDown, 1, nil
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps <= 0 {
			return "", 0, fmt.Errorf("invalid rollback steps %q", args[1])
		}
		return MigrateDown, steps, nil
	default:
		return "", 0, fmt.Errorf("unknown migrate action %q (up, down, version)", args[0])
	}
}
