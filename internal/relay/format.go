package relay

import (
	"fmt"
	"strings"

	"github.com/zulandar/relayhub/internal/models"
)

// User-facing relay texts.
const (
	ackText          = "Your message has been forwarded to the bot owner and admins."
	notConnectedText = "This bot is not connected."
	replyHeader      = "Reply from bot owner/admin:"
)

// forwardText annotates a relayed message with its sender.
func forwardText(s Sender, text string) string {
	name := s.Name
	if name == "" {
		name = s.ID
	}
	if s.Handle != "" {
		return fmt.Sprintf("New message from %s (@%s):\n\n%s", name, s.Handle, text)
	}
	return fmt.Sprintf("New message from %s:\n\n%s", name, text)
}

// replyText wraps an owner/admin reply for the original sender.
func replyText(text string) string {
	return replyHeader + "\n\n" + text
}

// MaskCredential hides all but the edges of a secret for display.
func MaskCredential(credential string) string {
	if len(credential) <= 10 {
		return strings.Repeat("*", len(credential))
	}
	return credential[:4] + "…" + credential[len(credential)-4:]
}

// BotLabel returns "@handle" when known, otherwise a masked credential.
func BotLabel(bot models.ManagedBot) string {
	if bot.Handle != "" {
		return "@" + bot.Handle
	}
	return MaskCredential(bot.Credential)
}

// SplitText breaks text into chunks of at most limit runes, preferring to
// cut at a newline.
func SplitText(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
