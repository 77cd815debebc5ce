package security

import (
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	guard := NewMediaGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"HTTPSの公開ホストは許可", "https://cdn.example.com/video.mp4", false},
		{"HTTPの公開ホストは許可", "http://media.example.org/clip.webm", false},
		{"公開IPアドレスは許可", "https://93.184.216.34/video.mp4", false},
		{"空のURLは拒否", "", true},
		{"ftpスキームは拒否", "ftp://example.com/video.mp4", true},
		{"fileスキームは拒否", "file:///etc/passwd", true},
		{"javascriptスキームは拒否", "javascript:alert(1)", true},
		{"ホストなしは拒否", "https:///video.mp4", true},
		{"localhostは拒否", "https://localhost/video.mp4", true},
		{"localhost大文字も拒否", "https://LOCALHOST/video.mp4", true},
		{"ループバックIPは拒否", "http://127.0.0.1/video.mp4", true},
		{"プライベートIP 10.x は拒否", "http://10.0.0.5/video.mp4", true},
		{"プライベートIP 172.16.x は拒否", "http://172.16.0.1/video.mp4", true},
		{"プライベートIP 192.168.x は拒否", "http://192.168.1.1/video.mp4", true},
		{"メタデータIPは拒否", "http://169.254.169.254/latest/meta-data", true},
		{"カレントネットワークは拒否", "http://0.0.0.0/video.mp4", true},
		{"IPv6ループバックは拒否", "http://[::1]/video.mp4", true},
		{"IPv6リンクローカルは拒否", "http://[fe80::1]/video.mp4", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateURL(%q) = nil, want error", tt.url)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateURL(%q) = %v, want nil", tt.url, err)
			}
		})
	}
}

func TestNewSafeClient(t *testing.T) {
	guard := NewMediaGuard()
	client := guard.NewSafeClient(0)
	if client == nil {
		t.Fatal("NewSafeClient returned nil")
	}
	if client.Transport == nil {
		t.Error("safe client should carry a validating transport")
	}
}

func TestValidateURL_ErrorMentionsCause(t *testing.T) {
	guard := NewMediaGuard()
	err := guard.ValidateURL("http://169.254.169.254/")
	if err == nil {
		t.Fatal("expected error for metadata IP")
	}
	if !strings.Contains(err.Error(), "169.254.169.254") {
		t.Errorf("error %q should name the blocked address", err.Error())
	}
}
