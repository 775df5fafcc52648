package policy

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Known argument shapes. Tool argument bags are opaque to callers; the engine
// only ever sees them through these extractions. A bag that decodes to none
// of the recognized shapes is non-matching, never an error.

type commandArgs struct {
	Command        string `mapstructure:"command"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type pathArgs struct {
	Path   string `mapstructure:"path"`
	File   string `mapstructure:"file"`
	Target string `mapstructure:"target"`
}

type repoArgs struct {
	Repo string `mapstructure:"repo"`
}

func decodeArgs(args map[string]any, out any) bool {
	if len(args) == 0 {
		return false
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return false
	}
	return dec.Decode(args) == nil
}

// extractCommand pulls a shell-like command string out of the argument bag.
func extractCommand(args map[string]any) (string, bool) {
	var c commandArgs
	if !decodeArgs(args, &c) || c.Command == "" {
		return "", false
	}
	return c.Command, true
}

// extractTimeout pulls a requested timeout in seconds, when present.
func extractTimeout(args map[string]any) (int, bool) {
	var c commandArgs
	if !decodeArgs(args, &c) || c.TimeoutSeconds <= 0 {
		return 0, false
	}
	return c.TimeoutSeconds, true
}

// extractRepo pulls a repository slug out of the argument bag.
func extractRepo(args map[string]any) (string, bool) {
	var r repoArgs
	if !decodeArgs(args, &r) || r.Repo == "" {
		return "", false
	}
	return r.Repo, true
}

// extractPath pulls a filesystem path out of the argument bag, trying the
// common field names in order.
func extractPath(args map[string]any) (string, bool) {
	var p pathArgs
	if !decodeArgs(args, &p) {
		return "", false
	}
	for _, candidate := range []string{p.Path, p.File, p.Target} {
		if strings.TrimSpace(candidate) != "" {
			return candidate, true
		}
	}
	return "", false
}
