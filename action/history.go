package action

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/taskflow/types"
)

// placeholderAck replaces a tool-result body whose content was entirely
// stripped by history preparation.
const placeholderAck = "ok"

// StripStaleImages removes image payloads from every tool-result message
// that predates the most recent user-originated turn. Repeated
// screenshots would otherwise grow the context without bound; the latest
// turn keeps its visual context intact. A tool result left with no
// content after stripping is downgraded to a placeholder acknowledgement.
// The operation is idempotent and does not mutate its input.
func StripStaleImages(msgs []types.Message) []types.Message {
	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			lastUser = i
			break
		}
	}

	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if lastUser >= 0 && i >= lastUser {
			break
		}
		m := &out[i]
		if !m.IsToolResult() || !m.HasImages() {
			continue
		}
		m.Images = nil
		if strings.TrimSpace(m.Content) == "" {
			m.Content = placeholderAck
		}
	}
	return out
}

// Trimmer prepares a round's message history before it is sent: stale
// image stripping, then an optional token-budget pass that downgrades the
// oldest tool-result bodies to placeholders until the history fits.
type Trimmer struct {
	tokenizer types.Tokenizer
	budget    int
}

// NewTrimmer creates a Trimmer with the given token budget. budget <= 0
// disables the budget pass; image stripping always applies. Token
// counting uses the cl100k_base encoding when available and falls back
// to character-based estimation.
func NewTrimmer(budget int) *Trimmer {
	return &Trimmer{tokenizer: newTokenizer(), budget: budget}
}

// Prepare returns the trimmed history ready to send.
func (t *Trimmer) Prepare(msgs []types.Message) []types.Message {
	out := StripStaleImages(msgs)
	if t.budget <= 0 {
		return out
	}

	lastUser := -1
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == types.RoleUser {
			lastUser = i
			break
		}
	}
	for i := 0; i < len(out); i++ {
		if t.tokenizer.CountMessagesTokens(out) <= t.budget {
			break
		}
		if lastUser >= 0 && i >= lastUser {
			break
		}
		m := &out[i]
		if !m.IsToolResult() || m.Content == placeholderAck {
			continue
		}
		m.Content = placeholderAck
		m.Images = nil
	}
	return out
}

// tiktokenTokenizer counts tokens with a real BPE encoding.
type tiktokenTokenizer struct {
	enc         *tiktoken.Tiktoken
	msgOverhead int
}

func newTokenizer() types.Tokenizer {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return types.NewEstimateTokenizer()
	}
	return &tiktokenTokenizer{enc: enc, msgOverhead: 4}
}

func (t *tiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *tiktokenTokenizer) CountMessageTokens(msg types.Message) int {
	n := t.msgOverhead + t.CountTokens(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += t.CountTokens(tc.Name) + t.CountTokens(string(tc.Arguments))
	}
	return n
}

func (t *tiktokenTokenizer) CountMessagesTokens(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += t.CountMessageTokens(m)
	}
	return total
}
