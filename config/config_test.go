package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yum.toml")
	content := `
obsoletes = false
installonlypkgs = ["kernel", "kernel-devel"]
installonly_limit = 5
skip_broken = true
multilib_policy = "all"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Obsoletes {
		t.Fatal("expected obsoletes=false to override the default true")
	}
	if !cfg.IsInstallOnly("kernel") {
		t.Fatal("expected kernel to be install-only")
	}
	if cfg.InstallOnlyLimit != 5 {
		t.Fatalf("expected limit 5, got %d", cfg.InstallOnlyLimit)
	}
	if cfg.MultilibPolicy != MultilibAll {
		t.Fatalf("expected multilib_policy all, got %s", cfg.MultilibPolicy)
	}
	if !cfg.WantsGroupType(GroupMandatory) {
		t.Fatal("expected default group types to survive when unset in the file")
	}
}

func TestWantsExactArch(t *testing.T) {
	cfg := Default()
	cfg.ExactArchList = []string{"kernel"}
	if !cfg.WantsExactArch("kernel") {
		t.Fatal("expected kernel to be exact-arch via the per-name list")
	}
	if cfg.WantsExactArch("zsh") {
		t.Fatal("expected zsh not to be exact-arch")
	}
}
