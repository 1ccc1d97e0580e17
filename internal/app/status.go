package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
)

// runStatus はバックエンドの稼働状況を表示する。
// 認証済みの場合は知識ベースの情報も表示する。バックエンドが落ちていてもエラーにはしない。
func runStatus(ctx context.Context, env *clientEnv, out io.Writer) error {
	snap, err := env.start(ctx)
	if err != nil {
		env.logger.Warn("continuing without a session", slog.String("error", err.Error()))
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Backend:\t%s\n", env.api.BaseURL())

	health, err := env.api.Health(ctx)
	if err != nil {
		fmt.Fprintf(tw, "Status:\toffline\n")
		return nil
	}
	fmt.Fprintf(tw, "Status:\t%s\n", health.Status)

	if v, err := env.api.Version(ctx); err == nil {
		fmt.Fprintf(tw, "Version:\t%s\n", v.Version)
	} else {
		fmt.Fprintf(tw, "Version:\t-\n")
	}

	if pl, err := env.api.PageLoad(ctx); err == nil {
		fmt.Fprintf(tw, "Page loads:\t%s\n", env.formatNumber(float64(pl.Count), 0))
	}

	if !snap.IsAuthenticated() {
		fmt.Fprintf(tw, "Signed in:\tno\n")
		return nil
	}

	role := "-"
	if snap.Profile != nil {
		role = string(snap.Profile.Role)
	}
	fmt.Fprintf(tw, "Signed in:\t%s (%s)\n", snap.Identity.Email, role)

	info, err := env.api.FileStoreInfo(ctx)
	if err != nil {
		fmt.Fprintf(tw, "Knowledge base:\tunavailable\n")
		return nil
	}
	name := info.DisplayName
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(tw, "Knowledge base:\t%s\n", name)
	fmt.Fprintf(tw, "  Size:\t%s MB\n", env.formatNumber(info.SizeMB, 1))
	fmt.Fprintf(tw, "  Uploaded:\t%s\n", env.formatDate(info.UploadDate))
	return nil
}
