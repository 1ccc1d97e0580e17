// Package chat はストリーミングチャットの1会話（トランスクリプト）を管理する。
// 1ターンはユーザー発話の送信からストリーム終端（または通信失敗）までで、同時に開けるターンは1つだけ。
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/nsai/internal/model"
	"github.com/hitoshi/nsai/internal/stream"
)

// Apology は通信失敗時にアシスタントの新しいメッセージとして追加する固定文言。
const Apology = "Sorry, I encountered an error. Please try again later."

// ErrorMarker はerrorエンベロープをアシスタントメッセージ内に表示する際の接頭辞。
const ErrorMarker = "⚠️ "

// defaultReadBufferSize はレスポンスボディを読み取る固定バッファのサイズ。
const defaultReadBufferSize = 4096

var (
	// ErrEmptyMessage は空白のみのメッセージが送信された場合のエラー。トランスクリプトは変更されない。
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrTurnOpen は前のターンが終わる前に送信された場合のエラー。
	ErrTurnOpen = errors.New("chat: a turn is already open")
)

// StreamOpener はメッセージを送信してNDJSONストリームを開く。
// *api.Client が満たす。
type StreamOpener interface {
	OpenChatStream(ctx context.Context, message string) (io.ReadCloser, error)
}

// Option はConversationの設定を変更する。
type Option func(*Conversation)

// WithReadBufferSize はボディ読み取りバッファのサイズを指定する。
func WithReadBufferSize(n int) Option {
	return func(c *Conversation) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// WithOnChange はトランスクリプトが変化するたびに呼ばれるフックを登録する。
// フックはSendMessageを呼んだゴルーチン上で、内部ロックを保持せずに呼ばれる。
func WithOnChange(fn func()) Option {
	return func(c *Conversation) {
		c.onChange = fn
	}
}

// Conversation はチャットのトランスクリプトとターンの状態を保持する。
type Conversation struct {
	opener   StreamOpener
	logger   *slog.Logger
	bufSize  int
	onChange func()

	mu       sync.Mutex
	messages []model.Message
	open     bool
	usage    *model.TokenUsage
	prompt   string
}

// New はConversationを生成する。
func New(opener StreamOpener, logger *slog.Logger, opts ...Option) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conversation{
		opener:  opener,
		logger:  logger,
		bufSize: defaultReadBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage はtextを送信し、応答ストリームを読み終えるまでブロックする。
//
// 空白のみのtextはリクエストを発行せず ErrEmptyMessage を返す。
// ターンが開いている間は ErrTurnOpen を返す。
// 通信失敗時は受信済みの部分応答を残したまま Apology を別メッセージとして追加し、ターンを閉じて元のエラーを返す。
func (c *Conversation) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	// 1. ユーザーメッセージを即座に追加してターンを開く
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return ErrTurnOpen
	}
	c.open = true
	c.messages = append(c.messages, model.Message{Role: model.MessageRoleUser, Content: text})
	c.mu.Unlock()
	c.notify()

	// 2. リクエスト発行
	body, err := c.opener.OpenChatStream(ctx, text)
	if err != nil {
		c.logger.Error("chat request failed", slog.String("error", err.Error()))
		c.fail()
		return fmt.Errorf("open chat stream: %w", err)
	}
	defer body.Close()

	// 3. バイトが届く前に空のアシスタントメッセージを追加する
	c.mu.Lock()
	c.messages = append(c.messages, model.Message{Role: model.MessageRoleAssistant})
	c.mu.Unlock()
	c.notify()

	// 4-5. 固定バッファでチャンクを読み、行単位でエンベロープを適用する
	if err := c.consume(body); err != nil {
		c.logger.Error("chat stream interrupted", slog.String("error", err.Error()))
		c.fail()
		return fmt.Errorf("read chat stream: %w", err)
	}

	// 6. ストリーム終端でターンを閉じる
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	c.notify()
	return nil
}

// consume はボディをEOFまで読み、届いた順にエンベロープを適用する。
func (c *Conversation) consume(body io.Reader) error {
	framer := stream.NewLineFramer()
	buf := make([]byte, c.bufSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			_ = framer.Feed(buf[:n])
			c.drain(framer)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}

	framer.Close()
	c.drain(framer)
	return nil
}

// drain はフレーマーから取り出せる行をすべて処理する。
func (c *Conversation) drain(framer *stream.LineFramer) {
	for {
		line, ok := framer.Next()
		if !ok {
			return
		}

		env, err := stream.Decode(line)
		if errors.Is(err, stream.ErrBlankLine) {
			continue
		}
		if err != nil {
			c.logger.Warn("skipping malformed stream line",
				slog.String("error", err.Error()),
				slog.Int("line_bytes", len(line)),
			)
			continue
		}

		if c.apply(env) {
			c.notify()
		}
	}
}

// apply は1つのエンベロープを状態に反映する。
// トランスクリプトを変更した場合にtrueを返す。
func (c *Conversation) apply(env stream.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Type {
	case stream.TypeContent:
		c.appendToAssistant(env.Text)
		return true
	case stream.TypeError:
		last := c.lastAssistant()
		if last != nil && last.Content != "" && !strings.HasSuffix(last.Content, "\n") {
			c.appendToAssistant("\n")
		}
		c.appendToAssistant(ErrorMarker + env.Text)
		return true
	case stream.TypeUsage:
		u := env.Usage()
		c.usage = &u
	case stream.TypePrompt:
		c.prompt = env.Text
	}
	return false
}

// lastAssistant は開いているアシスタントメッセージを返す。呼び出し元がロックを保持する。
func (c *Conversation) lastAssistant() *model.Message {
	if len(c.messages) == 0 {
		return nil
	}
	last := &c.messages[len(c.messages)-1]
	if last.Role != model.MessageRoleAssistant {
		return nil
	}
	return last
}

func (c *Conversation) appendToAssistant(s string) {
	if last := c.lastAssistant(); last != nil {
		last.Content += s
	}
}

// fail は謝罪メッセージを追加してターンを閉じる。
func (c *Conversation) fail() {
	c.mu.Lock()
	c.messages = append(c.messages, model.Message{Role: model.MessageRoleAssistant, Content: Apology})
	c.open = false
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

// Messages はトランスクリプトのコピーを返す。
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// IsLoading はターンが開いているかを返す。
func (c *Conversation) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Usage は直近に受信したトークン使用量を返す。
func (c *Conversation) Usage() (model.TokenUsage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usage == nil {
		return model.TokenUsage{}, false
	}
	return *c.usage, true
}

// Prompt は直近に受信したデバッグ用プロンプトを返す。
func (c *Conversation) Prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt
}
