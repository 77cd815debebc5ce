package security

import "testing"

func TestSanitize(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Sunset timelapse", "Sunset timelapse"},
		{"scriptタグを除去", `<script>alert(1)</script>Sunset`, "Sunset"},
		{"HTMLタグを除去しテキストを残す", "<b>bold</b> title", "bold title"},
		{"imgのイベントハンドラを除去", `<img src=x onerror=alert(1)>clip`, "clip"},
		{"前後の空白を除去", "  padded  ", "padded"},
		{"空文字列は空文字列", "", ""},
		{"日本語テキストはそのまま", "夕焼けのタイムラプス", "夕焼けのタイムラプス"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	s := NewContentSanitizer()
	once := s.Sanitize(`<i>title</i> with <script>x</script>text`)
	twice := s.Sanitize(once)
	if once != twice {
		t.Errorf("Sanitize is not idempotent: %q != %q", once, twice)
	}
}

func TestSanitizeHashtag(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"先頭の#を除去", "#Sunset", "sunset"},
		{"小文字化", "TimeLapse", "timelapse"},
		{"前後の空白を除去", "  #Nature ", "nature"},
		{"タグを除去", "<b>#Food</b>", "food"},
		{"空文字列は空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SanitizeHashtag(tt.input); got != tt.want {
				t.Errorf("SanitizeHashtag(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
