package format

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const ModeMarkdownV2 = tgbotapi.ModeMarkdownV2

// MaxMessageLen is Telegram's message limit in UTF-16 code units.
const MaxMessageLen = 4096

// EscapeMarkdownV2 escapes every character MarkdownV2 treats as markup.
func EscapeMarkdownV2(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}

// MentionMarkdownV2 renders an inline mention of a user that works even when
// the user has no username.
func MentionMarkdownV2(userID int64, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "user"
	}
	// Inside the link target only ')' and '\' need escaping, and the id has neither.
	return "[" + EscapeMarkdownV2(name) + "](tg://user?id=" + strconv.FormatInt(userID, 10) + ")"
}

// DisplayName joins a user's first and last name, falling back to the
// username.
func DisplayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// UTF16Len calculates the UTF-16 length of a string.
// Telegram counts message and entity lengths in UTF-16 code units.
func UTF16Len(s string) int {
	length := 0
	for _, b := range []byte(s) {
		if (b & 0xc0) != 0x80 {
			if b >= 0xf0 {
				length += 2 // surrogate pair
			} else {
				length++
			}
		}
	}
	return length
}

// Truncate cuts s so that it fits in size UTF-16 code units, appending an
// ellipsis when anything was dropped.
func Truncate(s string, size int) string {
	if UTF16Len(s) <= size {
		return s
	}
	const ellipsis = "…"
	limit := size - 1
	n := 0
	for i, r := range s {
		w := 1
		if r > 0xFFFF {
			w = 2
		}
		if n+w > limit {
			return s[:i] + ellipsis
		}
		n += w
	}
	return s
}
