package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はBFFサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandChat は対話チャットクライアントを起動することを示す。
	CommandChat Command = "chat"
	// CommandStatus はバックエンドの状態を表示することを示す。
	CommandStatus Command = "status"
	// CommandAdmin は管理者向けのユーザー操作を実行することを示す。
	CommandAdmin Command = "admin"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示することを示す。
	CommandHelp Command = "help"
	// CommandUnknown はサポート外のコマンド。
	CommandUnknown Command = ""
)

const usage = `Usage: nsai <command> [options]

Commands:
  serve        start the BFF server (default)
  chat         open an interactive chat session
  status       show backend health, version and knowledge base info
  admin        manage users (admins only)
               admin users
               admin set-role <uid> <pending|user|admin>
               admin sessions <uid>
               admin events <session-id>
  healthcheck  probe the local server's /healthz
  help         show this message

Client options:
  -config <path>  client config file (default ~/.nsai/config.toml)
`

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServe、サポート外のコマンドはCommandUnknownを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "chat":
		return CommandChat
	case "status":
		return CommandStatus
	case "admin":
		return CommandAdmin
	case "healthcheck":
		return CommandHealthcheck
	case "help", "-h", "--help":
		return CommandHelp
	default:
		return CommandUnknown
	}
}

// IsClient はバックエンドAPIを呼ぶクライアントコマンドかを返す。
func (c Command) IsClient() bool {
	switch c {
	case CommandChat, CommandStatus, CommandAdmin:
		return true
	default:
		return false
	}
}
