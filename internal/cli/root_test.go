package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/config"
	"github.com/sandeepkv93/license-activation-service/internal/di"
	"github.com/sandeepkv93/license-activation-service/internal/security"
	"github.com/sandeepkv93/license-activation-service/internal/service"
)

func useSQLiteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		DatabaseDriver:             config.DatabaseDriverSQLite,
		DatabaseURL:                filepath.Join(t.TempDir(), "activation.db"),
		KeyProductTag:              "DSWIFT",
		KeyDefaultMaxDevices:       1,
		KeyIssueMaxAttempts:        3,
		ActivationStoreTimeout:     2 * time.Second,
		ActivationPrefixLookup:     true,
		ActivationNegativeCacheTTL: time.Minute,
		RateLimitMode:              config.RateLimitModeLocal,
	}
	prev := configLoader
	configLoader = func() (*config.Config, error) { return cfg, nil }
	t.Cleanup(func() { configLoader = prev })
	return cfg
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func TestKeysIssueAndRevoke(t *testing.T) {
	cfg := useSQLiteConfig(t)

	plaintext, err := execute(t, "", "keys", "issue", "--owner", "owner-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(plaintext, "DSWIFT-") {
		t.Fatalf("unexpected key %q", plaintext)
	}

	tooling, cleanup, err := di.InitializeTooling(context.Background(), cfg)
	if err != nil {
		t.Fatalf("tooling: %v", err)
	}
	if _, err := tooling.Service.Activate(context.Background(), service.ActivateInput{Key: plaintext, Fingerprint: "fp-1"}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	keys, err := tooling.Service.ListKeys(context.Background(), "owner-1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v %+v", err, keys)
	}
	cleanup()

	out, err := execute(t, "", "keys", "revoke", keys[0].ID, "--owner", "owner-1")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !strings.Contains(out, "devices revoked: 1") {
		t.Fatalf("unexpected revoke output %q", out)
	}

	if _, err := execute(t, "", "keys", "revoke", keys[0].ID, "--owner", "someone-else"); err == nil {
		t.Fatal("expected not found for foreign owner")
	}
}

func TestKeysIssueRequiresOwner(t *testing.T) {
	useSQLiteConfig(t)
	if _, err := execute(t, "", "keys", "issue"); err == nil {
		t.Fatal("expected missing flag error")
	}
}

func TestDevicesDeactivate(t *testing.T) {
	useSQLiteConfig(t)
	out, err := execute(t, "", "devices", "deactivate", "--fingerprint", "unknown-fp")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMigrate(t *testing.T) {
	useSQLiteConfig(t)
	out, err := execute(t, "", "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if out != "schema up to date" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTokenHash(t *testing.T) {
	const token = "backend-caller-token-0001"
	out, err := execute(t, token+"\n", "token", "hash")
	if err != nil {
		t.Fatalf("token hash: %v", err)
	}
	if !security.VerifyInternalToken(out, token) {
		t.Fatalf("printed hash does not verify: %q", out)
	}

	if _, err := execute(t, "short", "token", "hash"); err == nil {
		t.Fatal("expected error for short token")
	}
}

func TestLoadgenRequiresKey(t *testing.T) {
	if _, err := execute(t, "", "loadgen", "--profile", "activate", "--duration", "10ms"); err == nil {
		t.Fatal("expected error without --key")
	}
}
