package types

// TokenUsage represents token consumption statistics.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Add adds another TokenUsage to this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Tokenizer defines the interface for token counting used by the
// history-trimming policy.
type Tokenizer interface {
	// CountTokens counts tokens in a text string.
	CountTokens(text string) int
	// CountMessageTokens counts tokens in a single message.
	CountMessageTokens(msg Message) int
	// CountMessagesTokens counts total tokens in a message slice.
	CountMessagesTokens(msgs []Message) int
}

// EstimateTokenizer provides a simple character-based token estimation,
// used as a fallback when no model-specific encoding is available.
type EstimateTokenizer struct {
	charsPerToken float64
	msgOverhead   int
}

// NewEstimateTokenizer creates a new EstimateTokenizer.
func NewEstimateTokenizer() *EstimateTokenizer {
	return &EstimateTokenizer{
		charsPerToken: 4.0,
		msgOverhead:   4,
	}
}

// CountTokens counts tokens in text.
func (t *EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := int(float64(len(text)) / t.charsPerToken)
	if tokens < 1 {
		return 1
	}
	return tokens
}

// CountMessageTokens counts tokens in a single message.
func (t *EstimateTokenizer) CountMessageTokens(msg Message) int {
	n := t.msgOverhead + t.CountTokens(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += t.CountTokens(tc.Name) + t.CountTokens(string(tc.Arguments))
	}
	return n
}

// CountMessagesTokens counts total tokens in a message slice.
func (t *EstimateTokenizer) CountMessagesTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += t.CountMessageTokens(m)
	}
	return total
}
