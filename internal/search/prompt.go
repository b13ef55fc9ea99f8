package search

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/recall/pkg/utils"
)

// Fixed replies for questions that cannot be grounded.
const (
	MsgQuestionFailed   = "I had a problem processing your question."
	MsgNoRelevantInfo   = "I couldn't find related information in your chats."
	MsgUnreadableRefs   = "I found references but could not read their content."
	MsgGenerationFailed = "The model could not generate a response."
)

// SystemPrompt instructs the generator to answer only from the retrieved history.
const SystemPrompt = `You are a personal memory assistant with access to the user's chat history.
Rules:
1. The sender "Me" (or "Yo") is the user you are talking to; every other sender is another person.
2. Answer ONLY from the CONTEXT below. If the answer is not there, say "I don't remember talking about that".
3. If the context contains contradictory messages, mention both versions.
4. You may show exact personal data (addresses, numbers, dates) when it appears in the context.
5. Be brief and direct.`

const (
	contextHeader = "Consult the following fragments of my chat history:\n\n### CONTEXT ###\n"
	contextFooter = "### END CONTEXT ###\n\nBased on the above, answer: "
)

// Prompt is the input handed to the generator.
type Prompt struct {
	System string
	User   string
	// IDs are the message ids whose text made it into the context, in rank order.
	IDs []string
}

// contextBuilder assembles "- text" lines up to a character budget.
type contextBuilder struct {
	b        strings.Builder
	maxChars int
	used     int
	entries  int
	full     bool
}

func newContextBuilder(maxChars int) *contextBuilder {
	return &contextBuilder{maxChars: maxChars}
}

// add appends one entry. It returns false once the budget is exhausted; the first entry
// is always kept and truncated to fit.
func (c *contextBuilder) add(text string) bool {
	if c.full {
		return false
	}
	line := "- " + text + "\n"
	n := utf8.RuneCountInString(line)
	if c.maxChars > 0 && c.used+n > c.maxChars {
		if c.entries > 0 {
			c.full = true
			return false
		}
		// 2 for "- ", 1 for "\n", 3 for the ellipsis.
		keep := c.maxChars - 6
		if keep < 1 {
			keep = 1
		}
		line = "- " + utils.Truncate(text, keep) + "\n"
		n = utf8.RuneCountInString(line)
		c.full = true
	}
	c.b.WriteString(line)
	c.used += n
	c.entries++
	return true
}

func (c *contextBuilder) len() int {
	return c.entries
}

func (c *contextBuilder) String() string {
	return c.b.String()
}

// userPrompt wraps the context block and the question.
func userPrompt(block, question string) string {
	return contextHeader + block + contextFooter + question
}
