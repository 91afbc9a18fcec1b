package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
name = "pop3-a"
hostname = "mail.example.com"
addr = ":1100"
inactivity_timeout = "5m"
max_connections = 200

[logging]
output = "stderr"
format = "console"
level = "debug"

[storage]
backend = "maildir"
path = "/var/mail/maildirs"

[auth]
user_file = "/etc/n3/users"

[metrics]
enabled = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Hostname != "mail.example.com" {
		t.Errorf("hostname = %q, want mail.example.com", cfg.Server.Hostname)
	}
	if cfg.Server.Addr != ":1100" {
		t.Errorf("addr = %q, want :1100", cfg.Server.Addr)
	}
	timeout, err := cfg.Server.GetInactivityTimeout()
	if err != nil || timeout != 5*time.Minute {
		t.Errorf("inactivity timeout = %v (%v), want 5m", timeout, err)
	}
	if cfg.Storage.Backend != "maildir" {
		t.Errorf("backend = %q, want maildir", cfg.Storage.Backend)
	}
	// enabled metrics without an addr falls back to the default
	if cfg.Metrics.Addr != "127.0.0.1:9110" {
		t.Errorf("metrics addr = %q, want 127.0.0.1:9110", cfg.Metrics.Addr)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[storage]
path = "/tmp/n3.db"

[auth]
user_file = "/etc/n3/users"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != ":110" {
		t.Errorf("addr default = %q, want :110", cfg.Server.Addr)
	}
	if cfg.Server.Hostname == "" {
		t.Error("hostname default should not be empty")
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend default = %q, want sqlite", cfg.Storage.Backend)
	}
	timeout, err := cfg.Server.GetInactivityTimeout()
	if err != nil || timeout != 10*time.Minute {
		t.Errorf("inactivity timeout default = %v (%v), want 10m", timeout, err)
	}
	if cfg.Server.TLSEnabled() {
		t.Error("TLS should be disabled without key material")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing user file",
			content: `
[storage]
path = "/tmp/n3.db"
`,
			wantErr: "auth.user_file",
		},
		{
			name: "missing storage path",
			content: `
[auth]
user_file = "/etc/n3/users"
`,
			wantErr: "storage.path",
		},
		{
			name: "unknown backend",
			content: `
[storage]
backend = "postgres"
path = "/tmp"

[auth]
user_file = "/etc/n3/users"
`,
			wantErr: "storage.backend",
		},
		{
			name: "cert without key",
			content: `
[server]
tls_cert_file = "/etc/n3/cert.pem"

[storage]
path = "/tmp/n3.db"

[auth]
user_file = "/etc/n3/users"
`,
			wantErr: "must be set together",
		},
		{
			name: "s3 with maildir backend",
			content: `
[storage]
backend = "maildir"
path = "/var/mail"
[storage.s3]
endpoint = "s3.example.com"
bucket = "mail"

[auth]
user_file = "/etc/n3/users"
`,
			wantErr: "sqlite backend",
		},
		{
			name: "s3 encryption without key",
			content: `
[storage]
path = "/tmp/n3.db"
[storage.s3]
endpoint = "s3.example.com"
bucket = "mail"
encrypt = true

[auth]
user_file = "/etc/n3/users"
`,
			wantErr: "encryption_key",
		},
		{
			name: "bad inactivity timeout",
			content: `
[server]
inactivity_timeout = "soon"

[storage]
path = "/tmp/n3.db"

[auth]
user_file = "/etc/n3/users"
`,
			wantErr: "inactivity_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("Load succeeded for a missing file")
	}
}
