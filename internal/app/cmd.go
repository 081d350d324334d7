package app

// Command はtaskmanのサブコマンド（起動モード）を表す。
type Command string

const (
	// CommandServe はタスクAPIとセッション認証のHTTPサーバーを起動する。
	// STORE_DRIVER=memoryの場合は期限切れセッションのクリーンアップも同一プロセスで回す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れのセッションとブートストラップトークン記録を
	// CLEANUP_INTERVAL間隔で削除し続ける。永続ストア専用。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションをSTORE_DRIVERのデータベースに適用して終了する。
	// インメモリストアではスキーマがないため何もしない。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はlocalhostのSERVER_PORTにある/healthを叩き、200以外なら失敗する。
	// シェルを持たないdistrolessイメージのHEALTHCHECKから呼ばれるため、設定の読み込みを行わない。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数なしや未知の名前はserveとして扱い、2番目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// NeedsConfig はサブコマンドが環境変数のConfig（SESSION_SECRETやDATABASE_URLなど）を必要とするかを返す。
func (c Command) NeedsConfig() bool {
	return c != CommandHealthcheck
}
