package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goodtune/detoxmine/internal/usage"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  api_port: 8081
  dns_port: 53
provider:
  type: file
  redis:
    password: secret
  file:
    path: /tmp/usage.json
    wach: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys failed: %v", err)
	}

	want := []string{"provider.file.wach", "server.dns_port"}
	if strings.Join(unknown, ",") != strings.Join(want, ",") {
		t.Errorf("expected unknown keys %v, got %v", want, unknown)
	}
}

func TestTerminalPrompter(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			prompter := terminalPrompter(strings.NewReader(tt.input), &out)

			got, err := prompter.Confirm(context.Background(), usage.PermissionPrompt)
			if err != nil {
				t.Fatalf("Confirm failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("input %q: expected %v, got %v", tt.input, tt.want, got)
			}
			if !strings.Contains(out.String(), usage.PermissionPrompt.Title) {
				t.Errorf("expected prompt title in output, got %q", out.String())
			}
		})
	}
}

func TestRedactPassword(t *testing.T) {
	if redactPassword("") != "" {
		t.Error("expected empty password to stay empty")
	}
	if redactPassword("secret") == "secret" {
		t.Error("expected password to be redacted")
	}
}
