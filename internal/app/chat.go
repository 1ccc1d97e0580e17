package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/nsai/internal/chat"
	"github.com/hitoshi/nsai/internal/model"
	"github.com/hitoshi/nsai/internal/security"
)

const chatPrompt = "you> "

const chatHelp = `Commands:
  /usage    show token usage of the last reply
  /prompt   show the debug prompt of the last reply
  /settings show display settings
  /quit     leave the chat
`

// transcriptPrinter はアシスタントの応答をストリーミングで端末に書き出す。
// 書き出す内容はTerminalSanitizerを通した後の差分のみ。
type transcriptPrinter struct {
	out       io.Writer
	sanitizer *security.TerminalSanitizer

	mu      sync.Mutex
	current int
	printed string
}

func newTranscriptPrinter(out io.Writer) *transcriptPrinter {
	return &transcriptPrinter{
		out:       out,
		sanitizer: security.NewTerminalSanitizer(),
		current:   -1,
	}
}

// refresh はトランスクリプトの変化を反映する。
// 無害化後の文字列が既出力の続きになっていない間（タグの途中など）は出力を保留する。
func (p *transcriptPrinter) refresh(msgs []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.current
	if start < 0 {
		start = 0
	}
	for i := start; i < len(msgs); i++ {
		m := msgs[i]
		if m.Role != model.MessageRoleAssistant {
			continue
		}
		if i != p.current {
			p.endLine()
			p.current = i
			p.printed = ""
			fmt.Fprint(p.out, "nsai> ")
		}
		text := p.sanitizer.Sanitize(m.Content)
		if strings.HasPrefix(text, p.printed) {
			fmt.Fprint(p.out, text[len(p.printed):])
			p.printed = text
		}
	}
}

// endTurn はターンの終わりに改行を揃える。
func (p *transcriptPrinter) endTurn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
}

func (p *transcriptPrinter) endLine() {
	if p.current >= 0 && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.out)
		p.printed += "\n"
	}
}

// chatSession は対話ループ。
type chatSession struct {
	env     *clientEnv
	conv    *chat.Conversation
	printer *transcriptPrinter
	in      LineReader
	out     io.Writer
}

// runChat はチャットの対話ループを実行する。承認済みユーザー（user以上）のみ利用できる。
func runChat(ctx context.Context, env *clientEnv, in LineReader, out io.Writer) error {
	snap, err := env.start(ctx)
	if err != nil {
		return err
	}
	if msg, err := env.require(snap, model.RoleUser); err != nil {
		fmt.Fprintln(out, msg)
		return err
	}

	printer := newTranscriptPrinter(out)
	s := &chatSession{env: env, printer: printer, in: in, out: out}
	s.conv = chat.New(env.api, env.logger, chat.WithOnChange(func() {
		printer.refresh(s.conv.Messages())
	}))

	fmt.Fprintf(out, "Signed in as %s. Type /help for commands.\n", snap.Identity.Email)
	return s.loop(ctx)
}

func (s *chatSession) loop(ctx context.Context) error {
	for {
		line, err := s.in.ReadLine(chatPrompt)
		if errors.Is(err, io.EOF) || errors.Is(err, errInterrupted) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "/") {
			if quit := s.command(line); quit {
				return nil
			}
			continue
		}

		err = s.conv.SendMessage(ctx, line)
		s.printer.endTurn()
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			// 謝罪メッセージはトランスクリプトに出ているので詳細はログのみ
			s.env.logger.Debug("chat turn failed", slog.String("error", err.Error()))
		}
	}
}

// command はスラッシュコマンドを処理する。終了する場合にtrueを返す。
func (s *chatSession) command(line string) bool {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/usage":
		if u, ok := s.conv.Usage(); ok {
			fmt.Fprintf(s.out, "input tokens: %s, output tokens: %s\n",
				s.env.formatNumber(float64(u.InputTokens), 0),
				s.env.formatNumber(float64(u.OutputTokens), 0),
			)
		} else {
			fmt.Fprintln(s.out, "no usage reported yet")
		}
	case "/prompt":
		if p := s.conv.Prompt(); p != "" {
			fmt.Fprintln(s.out, s.printer.sanitizer.Sanitize(p))
		} else {
			fmt.Fprintln(s.out, "no prompt reported yet")
		}
	case "/settings":
		d := s.env.display()
		fmt.Fprintf(s.out, "locale: %s, timezone: %s, glucose unit: %s\n", d.Locale, d.Timezone, d.GlucoseUnit)
	default:
		fmt.Fprint(s.out, chatHelp)
	}
	return false
}
