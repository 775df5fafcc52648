package policy

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// destructiveSignatures are tested by substring containment against the
// normalized command line. The list is intentionally broad: false positives
// are accepted so that ambiguous destructive intent fails closed. This layer
// runs before any allow-list and is not a replacement for one.
var destructiveSignatures = []string{
	"rm -rf /",
	":(){",
	"mkfs",
	"dd if=/dev/zero",
	"format",
	"shutdown",
	"reboot",
	"halt",
	"init 0",
	"init 6",
}

// normalizeCommand flattens compatibility forms (NFKC), trims and lowercases
// so lookalike spellings cannot dodge the substring check.
func normalizeCommand(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// matchDestructive reports the first matched signature, checking the fixed
// set before any document-supplied extras.
func matchDestructive(command string, extra []string) (string, bool) {
	c := normalizeCommand(command)
	if c == "" {
		return "", false
	}
	for _, sig := range destructiveSignatures {
		if strings.Contains(c, sig) {
			return sig, true
		}
	}
	for _, sig := range extra {
		if sig == "" {
			continue
		}
		if strings.Contains(c, normalizeCommand(sig)) {
			return sig, true
		}
	}
	return "", false
}
