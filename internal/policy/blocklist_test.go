package policy

import "testing"

func TestMatchDestructive(t *testing.T) {
	cases := []struct {
		command string
		sig     string
		match   bool
	}{
		{"rm -rf / --no-preserve-root", "rm -rf /", true},
		{"sudo SHUTDOWN /s", "shutdown", true},
		{"echo hi; :(){ :|:& };:", ":(){", true},
		{"mkfs.ext4 /dev/sda1", "mkfs", true},
		{"dd if=/dev/zero of=/dev/sda", "dd if=/dev/zero", true},
		{"  REBOOT now  ", "reboot", true},
		{"sudo init 0", "init 0", true},
		{"ls -la", "", false},
		{"rm -rf ./build", "", false},
		{"git init", "", false},
	}

	for _, tc := range cases {
		sig, ok := matchDestructive(tc.command, nil)
		if ok != tc.match {
			t.Fatalf("%q: expected match=%v, got %v", tc.command, tc.match, ok)
		}
		if ok && sig != tc.sig {
			t.Fatalf("%q: expected signature %q, got %q", tc.command, tc.sig, sig)
		}
	}
}

func TestMatchDestructiveExtraSignatures(t *testing.T) {
	sig, ok := matchDestructive("curl http://attacker", []string{"curl"})
	if !ok || sig != "curl" {
		t.Fatalf("expected extra signature match, got %q %v", sig, ok)
	}
}

func TestNormalizeCommandFlattensLookalikes(t *testing.T) {
	// Fullwidth letters must collapse to their ASCII forms under NFKC.
	if got := normalizeCommand("ｓｈｕｔｄｏｗｎ"); got != "shutdown" {
		t.Fatalf("expected fullwidth form to normalize to shutdown, got %q", got)
	}
	if got := normalizeCommand("  LS -la  "); got != "ls -la" {
		t.Fatalf("unexpected normalization %q", got)
	}
}
