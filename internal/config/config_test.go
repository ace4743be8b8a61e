package config

import "testing"

func TestInitializeSetsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := GetString("storage.backend"); got != "memory" {
		t.Errorf("storage.backend = %q, want memory", got)
	}
	if got := GetStringSlice("retention.keep-branches"); len(got) != 1 || got[0] != "main" {
		t.Errorf("retention.keep-branches = %v, want [main]", got)
	}
}

func TestGetAgentIDPrefersFlagThenConfigThenHostname(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if got := GetAgentID("explicit"); got != "explicit" {
		t.Errorf("expected flag value to win, got %q", got)
	}

	Set("agent-id", "configured")
	if got := GetAgentID(""); got != "configured" {
		t.Errorf("expected configured agent-id, got %q", got)
	}
}

func TestGetEncryptionKeyRequiresEnabled(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := GetEncryptionKey(); got != "" {
		t.Errorf("expected empty key when encryption disabled, got %q", got)
	}

	Set("encryption.enabled", true)
	Set("encryption.key-env", "AGENTVCS_TEST_KEY")
	t.Setenv("AGENTVCS_TEST_KEY", "s3cr3t")
	if got := GetEncryptionKey(); got != "s3cr3t" {
		t.Errorf("GetEncryptionKey = %q, want s3cr3t", got)
	}
}
