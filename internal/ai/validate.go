package ai

import (
	"strings"
	"unicode/utf8"
)

// MaxReplyLength leaves room under the 280 character post limit.
const MaxReplyLength = 240

var forbiddenPhrases = []string{
	"as an ai", "certainly", "in conclusion", "i can help",
	"interesting tweet", "great point", "so true", "couldn't agree more",
	"this is huge", "love this", "game changer", "to the moon",
	"delve", "crucial",
}

var promoPhrases = []string{
	"check out", "click here", "follow me", "my newsletter", "subscribe",
}

// ValidateReply reports whether a generated reply is fit to post. The
// returned reason is empty when ok is true.
func ValidateReply(text string) (ok bool, reason string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, "empty"
	}
	if utf8.RuneCountInString(text) > MaxReplyLength {
		return false, "too long"
	}
	if strings.Contains(text, "#") {
		return false, "hashtag"
	}
	if strings.HasSuffix(strings.TrimRight(text, " .!\"'"), "?") {
		return false, "ends with a question"
	}
	lower := strings.ToLower(text)
	for _, p := range forbiddenPhrases {
		if strings.Contains(lower, p) {
			return false, "generic phrase: " + p
		}
	}
	for _, p := range promoPhrases {
		if strings.Contains(lower, p) {
			return false, "promotional: " + p
		}
	}
	if containsEmoji(text) {
		return false, "emoji"
	}
	return true, ""
}

func containsEmoji(s string) bool {
	for _, r := range s {
		switch {
		case r >= 0x1F000 && r <= 0x1FAFF,
			r >= 0x2600 && r <= 0x27BF,
			r >= 0x1F1E6 && r <= 0x1F1FF,
			r == 0xFE0F:
			return true
		}
	}
	return false
}

// cleanCompletion trims whitespace and one pair of surrounding quotes.
func cleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
