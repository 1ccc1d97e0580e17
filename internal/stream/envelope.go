package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/nsai/internal/model"
)

var (
	// ErrBlankLine は空行（空白のみを含む行）。呼び出し元は黙って読み飛ばす。
	ErrBlankLine = errors.New("stream: blank line")
	// ErrMalformedLine はJSONとして解釈できない行、または未知のtypeを持つ行。
	// ストリーム全体にとって致命的ではなく、ログに記録して読み飛ばす。
	ErrMalformedLine = errors.New("stream: malformed line")
)

// EnvelopeType はエンベロープの種別。
type EnvelopeType string

const (
	// TypeContent はアシスタント応答の断片。
	TypeContent EnvelopeType = "content"
	// TypePrompt はデバッグ用のシステムプロンプト。
	TypePrompt EnvelopeType = "prompt"
	// TypeUsage はトークン使用量。
	TypeUsage EnvelopeType = "usage"
	// TypeError はサーバー側で発生したエラー。
	TypeError EnvelopeType = "error"
)

// Envelope はストリームの1行をデコードしたもの。
// Typeに応じてTextまたはトークン数のどちらかが意味を持つ。
type Envelope struct {
	Type         EnvelopeType `json:"type"`
	Text         string       `json:"text,omitempty"`
	InputTokens  int          `json:"input_tokens,omitempty"`
	OutputTokens int          `json:"output_tokens,omitempty"`
}

// Usage はusageエンベロープのトークン数を返す。
func (e Envelope) Usage() model.TokenUsage {
	return model.TokenUsage{
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
	}
}

// Decode は1行を1つのEnvelopeにデコードする。
// 空行は ErrBlankLine、解釈できない行は ErrMalformedLine をラップしたエラーを返す。
func Decode(line []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Envelope{}, ErrBlankLine
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	switch env.Type {
	case TypeContent, TypePrompt, TypeUsage, TypeError:
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedLine, env.Type)
	}
}
