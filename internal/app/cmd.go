package app

// Command は起動モード。第1引数で選ぶ。
type Command string

const (
	// CommandServe はAPIサーバー。トークン更新とアイドルクライアント破棄も同じプロセスで動かす。
	CommandServe Command = "serve"
	// CommandMigrate はプラットフォームスキーマを最新まで適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを叩いて終了コードで返す(distrolessのHEALTHCHECK用)。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は引数からCommandを決める。未指定や未知の値はserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) > 0 {
		if c, ok := commands[args[0]]; ok {
			return c
		}
	}
	return CommandServe
}
