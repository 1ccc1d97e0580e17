// Package app はnsaiのエントリーポイント。
// サブコマンドに応じてBFFサーバーまたはクライアントコマンドを組み立てて起動する。
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hitoshi/nsai/internal/config"
	"github.com/hitoshi/nsai/internal/logger"
)

// Init はサーバーの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// LOG_LEVELは.envから読み込まれる場合もあるため設定値で作り直す
	slog.SetDefault(logger.Setup(logWriter(w), logger.ParseLevel(cfg.LogLevel)))

	return cfg, nil
}

func logWriter(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。wはサーバーのログとクライアントの出力先。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	switch cmd {
	case CommandHelp:
		fmt.Fprint(logWriter(w), usage)
		return nil
	case CommandUnknown:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command: %s", args[0])
	case CommandHealthcheck:
		// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	if cmd.IsClient() {
		return runClient(cmd, args[1:], os.Stdin, logWriter(w), os.Stderr)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.Port),
		slog.String("backend_url", cfg.BackendURL),
		slog.String("auth_domain", cfg.AuthDomain),
	)

	return runServe(cfg)
}

// runClient はクライアントコマンドを実行する。
// ログはstderrにWarn以上のみ出し（LOG_LEVELで変更可）、結果はoutに書く。
func runClient(cmd Command, args []string, stdin *os.File, out, errOut io.Writer) error {
	fs := flag.NewFlagSet(string(cmd), flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "client config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelWarn
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = logger.ParseLevel(v)
	}
	log := logger.Setup(errOut, level)

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := newClientEnv(cfg, nil, log)
	defer env.close()

	switch cmd {
	case CommandChat:
		in := newLineReader(stdin, out)
		defer in.Close()
		return runChat(ctx, env, in, out)
	case CommandStatus:
		return runStatus(ctx, env, out)
	case CommandAdmin:
		err := runAdmin(ctx, env, fs.Args(), out)
		if errors.Is(err, errUsage) {
			fmt.Fprint(errOut, usage)
		}
		return err
	default:
		return fmt.Errorf("not a client command: %s", cmd)
	}
}
