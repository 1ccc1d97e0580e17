package model

// MessageRole はチャットメッセージの送信者。
type MessageRole string

const (
	// MessageRoleUser はユーザーの発話。
	MessageRoleUser MessageRole = "user"
	// MessageRoleAssistant はアシスタントの応答。
	MessageRoleAssistant MessageRole = "assistant"
)

// Message はトランスクリプト内の1メッセージ。
type Message struct {
	Role    MessageRole
	Content string
}

// TokenUsage はストリームのusageフレームで通知されるトークン数。
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
