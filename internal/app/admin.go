package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-runewidth"

	"github.com/hitoshi/nsai/internal/model"
	"github.com/hitoshi/nsai/internal/roster"
	"github.com/hitoshi/nsai/internal/security"
)

// 表の列幅（端末の表示幅）
const (
	emailColumnWidth = 32
	dataColumnWidth  = 60
)

// errUsage は引数の誤り。使い方を表示して終了する。
var errUsage = errors.New("invalid arguments")

// adminCommand は管理者向けサブコマンドの実行環境。
type adminCommand struct {
	env       *clientEnv
	roster    *roster.Roster
	sanitizer *security.TerminalSanitizer
	out       io.Writer
}

// runAdmin は管理者向けのサブコマンドを実行する。adminロールのみ利用できる。
//
//	users                     ユーザー一覧とアクティビティ集計
//	set-role <uid> <role>     ロール変更
//	sessions <uid>            ユーザーのセッション一覧
//	events <session-id>       セッション内のイベント
func runAdmin(ctx context.Context, env *clientEnv, args []string, out io.Writer) error {
	snap, err := env.start(ctx)
	if err != nil {
		return err
	}
	if msg, err := env.require(snap, model.RoleAdmin); err != nil {
		fmt.Fprintln(out, msg)
		return err
	}

	a := &adminCommand{
		env:       env,
		roster:    roster.New(env.api, env.logger),
		sanitizer: security.NewTerminalSanitizer(),
		out:       out,
	}

	sub := "users"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "users":
		return a.users(ctx)
	case "set-role":
		if len(args) != 2 {
			return errUsage
		}
		return a.setRole(ctx, args[0], args[1])
	case "sessions":
		if len(args) != 1 {
			return errUsage
		}
		return a.sessions(ctx, args[0])
	case "events":
		if len(args) != 1 {
			return errUsage
		}
		return a.events(ctx, args[0])
	default:
		return errUsage
	}
}

func (a *adminCommand) users(ctx context.Context) error {
	if err := a.roster.Load(ctx); err != nil {
		fmt.Fprintln(a.out, roster.MessageFetchFailed)
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "UID\tEMAIL\tROLE\tSESSIONS\tEVENTS\tERRORS\tLAST ACTIVITY\tLAST LOGIN")
	for _, u := range a.roster.Users() {
		act, _ := a.roster.Activity(u.UID)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			a.cell(u.UID, emailColumnWidth),
			a.cell(u.Email, emailColumnWidth),
			a.cell(string(u.Role), emailColumnWidth),
			act.TotalSessions,
			act.TotalEvents,
			act.TotalErrors,
			a.env.formatTimestamp(act.LastActivity),
			a.env.formatDate(u.LastLogin),
		)
	}
	return nil
}

func (a *adminCommand) setRole(ctx context.Context, uid, value string) error {
	role, ok := model.ParseRole(value)
	if !ok {
		return fmt.Errorf("%w: unknown role %q", errUsage, value)
	}

	if err := a.roster.SetRole(ctx, uid, role); err != nil {
		fmt.Fprintln(a.out, roster.MessageUpdateFailed)
		return err
	}
	fmt.Fprintf(a.out, "%s is now %s\n", uid, role)
	return nil
}

func (a *adminCommand) sessions(ctx context.Context, uid string) error {
	sessions, err := a.roster.Sessions(ctx, uid)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(a.out, "no sessions")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "SESSION\tSTARTED\tLAST ACTIVITY\tEVENTS\tERRORS")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			a.cell(s.SessionID, emailColumnWidth),
			a.env.formatTimestamp(s.StartedAt),
			a.env.formatTimestamp(s.LastActivity),
			s.EventCount,
			s.ErrorCount,
		)
	}
	return nil
}

func (a *adminCommand) events(ctx context.Context, sessionID string) error {
	events, err := a.roster.Events(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(a.out, "no events")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "TIME\tTYPE\tDATA")
	for _, e := range events {
		data := e.Data
		if len(e.ErrorInfo) > 0 {
			data = e.ErrorInfo
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			a.env.formatTimestamp(e.Timestamp),
			a.cell(e.EventType, emailColumnWidth),
			a.cell(compactJSON(data), dataColumnWidth),
		)
	}
	return nil
}

// cell はバックエンド由来の文字列を無害化し、表示幅widthに収める。
func (a *adminCommand) cell(s string, width int) string {
	// 改行やタブは表の崩れになるので空白1つにまとめる
	s = strings.Join(strings.Fields(a.sanitizer.Sanitize(s)), " ")
	if s == "" {
		return "-"
	}
	return runewidth.Truncate(s, width, "…")
}

func compactJSON(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
