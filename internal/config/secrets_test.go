package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write secret file: %v", err)
	}
	return path
}

func TestResolveSecret(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		file    *string // nil leaves NAME_FILE unset
		want    string
		wantErr bool
	}{
		{name: "env only", env: "wifi-pass-1", want: "wifi-pass-1"},
		{name: "file only", file: ptr("file-pass\n"), want: "file-pass"},
		{name: "file wins over env", env: "env-pass", file: ptr("file-pass"), want: "file-pass"},
		{name: "neither set", want: ""},
		{name: "whitespace trimmed", file: ptr("  spaced-pass  \n\n"), want: "spaced-pass"},
		{name: "empty file", file: ptr(""), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvMQTTPassword, tt.env)
			t.Setenv(EnvMQTTPassword+"_FILE", "")
			if tt.file != nil {
				t.Setenv(EnvMQTTPassword+"_FILE", writeSecret(t, *tt.file))
			}

			got, err := ResolveSecret(EnvMQTTPassword)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveSecret_FileNotFound(t *testing.T) {
	t.Setenv(EnvAdminPass+"_FILE", "/nonexistent/path/to/secret")

	if _, err := ResolveSecret(EnvAdminPass); err == nil {
		t.Error("expected error when file does not exist")
	}
}

func ptr(s string) *string { return &s }

func TestLoadSecretsAndApply(t *testing.T) {
	dir := t.TempDir()
	passFile := filepath.Join(dir, "ap.txt")
	if err := os.WriteFile(passFile, []byte("from-a-file-123\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAPPassword+"_FILE", passFile)
	t.Setenv(EnvAdminUser, "admin")
	t.Setenv(EnvAdminPass, "hunter22")
	t.Setenv(EnvMQTTPassword, "")

	s, err := LoadSecrets()
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if s.APPassword != "from-a-file-123" || s.AdminUser != "admin" || s.AdminPass != "hunter22" || s.MQTTPassword != "" {
		t.Errorf("secrets = %+v", s)
	}

	cfg := Default()
	cfg.AccessPoint.Open = true
	if err := cfg.Apply(s); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if cfg.AccessPoint.Password != "from-a-file-123" || cfg.AccessPoint.Open {
		t.Errorf("access point = %+v", cfg.AccessPoint)
	}
}

func TestLoadSecretsUnreadableFile(t *testing.T) {
	t.Setenv(EnvMQTTPassword+"_FILE", "/nonexistent/mqtt-password")
	if _, err := LoadSecrets(); err == nil {
		t.Error("expected error for unreadable secret file")
	}
}
