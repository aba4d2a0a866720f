package app

// Command はauthgateの起動モード（サブコマンド）。
type Command string

const (
	// CommandServe は認証APIサーバーを起動する。既定のモード。
	CommandServe Command = "serve"
	// CommandWorker は期限切れOAuth stateのクリーンアップを定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はusers・sessions・oauth_statesのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中サーバーの /health を叩いて終了する。
	// distrolessイメージのHEALTHCHECK用で、設定の読み込みは行わない。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はos.Args[1:]の先頭からサブコマンドを決定する。
// 引数なし、または未知の値はserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
