package richtext

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"タグを除去する", "Hello <b>world</b>", "Hello world"},
		{"brは改行になる", "line1<br/>line2", "line1\nline2"},
		{"文字参照をデコードする", "Q&amp;A &lt;3", "Q&A <3"},
		{"scriptの中身は含めない", "a<script>evil()</script>b", "ab"},
		{"リンクはテキストのみ残る", `<a href="mailto:x@example.com">x@example.com</a>`, "x@example.com"},
		{"前後の空白を除去する", "<br/> text <br/>", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.in); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestShortDescription_TruncatesByCharacters(t *testing.T) {
	in := strings.Repeat("あ", 250)

	got := ShortDescription(in, 200)
	if n := utf8.RuneCountInString(got); n != 200 {
		t.Errorf("文字数 = %d, want 200", n)
	}
	if !utf8.ValidString(got) {
		t.Error("切り詰め後の文字列は有効なUTF-8であるべき")
	}
}

func TestShortDescription_ShortInputUnchanged(t *testing.T) {
	if got := ShortDescription("<b>short</b>", 200); got != "short" {
		t.Errorf("ShortDescription() = %q, want %q", got, "short")
	}
}

func TestShortDescription_DefaultLength(t *testing.T) {
	in := strings.Repeat("x", DefaultShortLength+50)

	got := ShortDescription(in, 0)
	if len(got) != DefaultShortLength {
		t.Errorf("len = %d, want %d", len(got), DefaultShortLength)
	}
}

func TestShortDescription_NotWordAware(t *testing.T) {
	if got := ShortDescription("hello world", 7); got != "hello w" {
		t.Errorf("ShortDescription() = %q, want %q", got, "hello w")
	}
}
