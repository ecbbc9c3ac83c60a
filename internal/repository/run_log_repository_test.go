package repository

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateErrorMessage(t *testing.T) {
	t.Run("short message passes through", func(t *testing.T) {
		msg := "summarize: backend down"
		if got := truncateErrorMessage(msg); got != msg {
			t.Errorf("expected %q unchanged, got %q", msg, got)
		}
	})

	t.Run("long message is bounded", func(t *testing.T) {
		msg := strings.Repeat("x", maxErrorMessageLen+200)
		got := truncateErrorMessage(msg)
		if utf8.RuneCountInString(got) != maxErrorMessageLen {
			t.Errorf("expected %d runes, got %d", maxErrorMessageLen, utf8.RuneCountInString(got))
		}
	})

	t.Run("multi-byte message stays valid UTF-8", func(t *testing.T) {
		msg := strings.Repeat("ж", maxErrorMessageLen+100)
		got := truncateErrorMessage(msg)
		if !utf8.ValidString(got) {
			t.Fatalf("truncated message is not valid UTF-8: %q", got[:20])
		}
		if utf8.RuneCountInString(got) != maxErrorMessageLen {
			t.Errorf("expected %d runes, got %d", maxErrorMessageLen, utf8.RuneCountInString(got))
		}
	})
}
