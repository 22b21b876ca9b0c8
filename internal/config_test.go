package internal

import (
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.App.HTTP.Address(); got != "127.0.0.1:8765" {
		t.Errorf("address %q, want 127.0.0.1:8765", got)
	}
}

func TestHTTPConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"valid", 8080, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"too large", 70000, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := HTTPConfig{Port: tc.port}
			err := c.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBackendConfigValidate(t *testing.T) {
	c := BackendConfig{}
	if err := c.Validate(); err == nil {
		t.Error("empty base_url should be rejected")
	}
	c.BaseURL = "http://localhost:3001"
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBackendProbeAddr(t *testing.T) {
	cases := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"explicit port", "http://localhost:3001", "localhost:3001"},
		{"http default port", "http://api.example.com", "api.example.com:80"},
		{"https default port", "https://api.example.com", "api.example.com:443"},
		{"unparseable", "://", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := BackendConfig{BaseURL: tc.baseURL}
			if got := c.ProbeAddr(); got != tc.want {
				t.Errorf("ProbeAddr() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAuthConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     AuthConfig
		wantErr bool
	}{
		{"empty defaults to disabled", AuthConfig{}, false},
		{"disabled", AuthConfig{Mode: AuthModeDisabled}, false},
		{"token with secret", AuthConfig{Mode: AuthModeToken, Token: "s3cret"}, false},
		{"token without secret", AuthConfig{Mode: AuthModeToken}, true},
		{"unknown mode", AuthConfig{Mode: "mtls"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAuthEnabled(t *testing.T) {
	c := AuthConfig{Mode: AuthModeDisabled}
	if c.AuthEnabled() {
		t.Error("disabled mode reports auth enabled")
	}
	c = AuthConfig{Mode: AuthModeToken, Token: "t"}
	if !c.AuthEnabled() {
		t.Error("token mode reports auth disabled")
	}
}
