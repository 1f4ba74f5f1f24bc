package generator

import (
	"strings"

	"github.com/robotmk/ebooks/internal/thread"
)

// Message is one chat message in the shape every chat backend accepts.
// Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// JoinExamples renders examples separated by Separator and ending with
// one, so the model's natural continuation is a new example.
func JoinExamples(examples []string) string {
	if len(examples) == 0 {
		return ""
	}
	return strings.Join(examples, Separator) + Separator
}

// PostPrompt shapes Contract A for chat backends: instructions become the
// system prompt and the examples a single user message.
func PostPrompt(examples []string, instructions string) (system string, msgs []Message) {
	return instructions, []Message{{Role: roleUser, Content: JoinExamples(examples)}}
}

// ConversePrompt shapes Contract B for chat backends. Bot turns become
// assistant messages and subject turns user messages labelled with their
// author; consecutive turns of one role are merged. Bot turns that precede
// the first subject turn are moved into the system prompt, since chat
// APIs expect the user to speak first.
func ConversePrompt(conv thread.Thread, instructions string) (system string, msgs []Message) {
	var preface []string
	for _, turn := range conv.Turns {
		if turn.Text == "" {
			continue
		}
		if turn.Role == thread.RoleBot {
			if len(msgs) == 0 {
				preface = append(preface, turn.Text)
				continue
			}
			msgs = appendMerged(msgs, roleAssistant, turn.Text)
			continue
		}
		msgs = appendMerged(msgs, roleUser, label(turn.Author)+turn.Text)
	}

	system = instructions
	if len(preface) > 0 {
		system = strings.TrimSpace(instructions + "\n\nYou said earlier in this conversation:\n" + strings.Join(preface, "\n"))
	}
	return system, msgs
}

func appendMerged(msgs []Message, role, content string) []Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content += "\n" + content
		return msgs
	}
	return append(msgs, Message{Role: role, Content: content})
}

func label(author string) string {
	if author == "" {
		return ""
	}
	return strings.TrimPrefix(author, "@") + ": "
}

// Transcript renders conv in flat completion form: each turn as
// "author:text" separated by Separator, ending with the bot's label so a
// continuation would be the bot's reply. Bot turns carry the bot's short
// label. The run logs it at debug level for every reply.
func Transcript(conv thread.Thread) string {
	bot := strings.TrimPrefix(conv.Bot, "@")
	if i := strings.Index(bot, "@"); i >= 0 {
		bot = bot[:i]
	}
	var b strings.Builder
	for _, turn := range conv.Turns {
		author := strings.TrimPrefix(turn.Author, "@")
		if turn.Role == thread.RoleBot {
			author = bot
		}
		b.WriteString(author)
		b.WriteString(":")
		b.WriteString(turn.Text)
		b.WriteString(Separator)
	}
	b.WriteString(bot)
	b.WriteString(":")
	return b.String()
}
