package policy

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/agentgate-io/agentgate/internal/audit"
)

func basePolicy() LoadedPolicy {
	return LoadedPolicy{
		Document: Document{
			Version: "1",
			Settings: &Settings{
				DefaultDeny: true,
				LogDenials:  true,
			},
			Tools: ToolPolicy{
				Allowed: []string{"search", "shell"},
			},
			Skills: SkillPolicy{Allowed: []string{"summarize"}},
			MCPs: MCPPolicy{
				Allowed: []string{"github"},
				Settings: map[string]MCPSetting{
					"github": {AllowedPaths: []string{"/repos"}},
				},
			},
			Resources: ResourcePolicy{DeniedPaths: []string{"/etc", "/root/.ssh"}},
		},
		Hash: "sha256:test",
	}
}

func newTestEngine(t *testing.T, loaded LoadedPolicy, sink audit.Sink) *Engine {
	t.Helper()
	engine, err := NewEngine(loaded, sink, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestEvaluateAllowListed(t *testing.T) {
	engine := newTestEngine(t, basePolicy(), nil)

	decision, err := engine.Evaluate(Request{
		ToolName:  "search",
		Arguments: map[string]any{"query": "x"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictAllowed {
		t.Fatalf("expected allowed, got %s (%s)", decision.Verdict, decision.Reason)
	}
	if decision.Rule != "tools.allowed" {
		t.Fatalf("expected tools.allowed rule, got %q", decision.Rule)
	}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	loaded := basePolicy()
	loaded.Document.Tools.Allowed = nil
	engine := newTestEngine(t, loaded, nil)

	decision, err := engine.Evaluate(Request{ToolName: "search"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected denied, got %s", decision.Verdict)
	}
	if decision.Reason != "no matching allow rule" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}
}

func TestEvaluateDefaultAllowWhenNotDenyByDefault(t *testing.T) {
	loaded := basePolicy()
	loaded.Document.Settings.DefaultDeny = false
	loaded.Document.Tools.Allowed = nil
	engine := newTestEngine(t, loaded, nil)

	decision, err := engine.Evaluate(Request{ToolName: "anything"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictAllowed {
		t.Fatalf("expected allowed, got %s", decision.Verdict)
	}
	if decision.Reason != "no restriction configured" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}
}

func TestEvaluateDeniedResourceBeatsAllowList(t *testing.T) {
	engine := newTestEngine(t, basePolicy(), nil)

	for _, req := range []Request{
		{ToolName: "search", RequestedResource: "/etc/passwd"},
		{ToolName: "search", Arguments: map[string]any{"path": "/root/.ssh/id_ed25519"}},
	} {
		decision, err := engine.Evaluate(req)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if decision.Verdict != VerdictDenied {
			t.Fatalf("expected denied for %+v, got %s", req, decision.Verdict)
		}
		if !strings.HasPrefix(decision.Rule, "resources.denied_paths:") {
			t.Fatalf("expected denied-path rule, got %q", decision.Rule)
		}
	}
}

func TestEvaluateDestructiveCommandBeatsAllowList(t *testing.T) {
	engine := newTestEngine(t, basePolicy(), nil)

	decision, err := engine.Evaluate(Request{
		ToolName:  "shell",
		Arguments: map[string]any{"command": "sudo shutdown /s"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected denied, got %s", decision.Verdict)
	}
	if !strings.Contains(decision.Reason, "shutdown") {
		t.Fatalf("reason should reference the signature, got %q", decision.Reason)
	}
}

func TestEvaluateRestrictionAllowedCommands(t *testing.T) {
	loaded := basePolicy()
	loaded.Document.Tools.Restrictions = map[string]Restriction{
		"shell": {
			AllowedCommands: []string{"ls", "cat"},
			AllowedPaths:    []string{"/workspace"},
		},
	}
	engine := newTestEngine(t, loaded, nil)

	decision, err := engine.Evaluate(Request{
		ToolName:  "shell",
		Arguments: map[string]any{"command": "/bin/ls -la", "path": "/workspace/src"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictAllowed {
		t.Fatalf("expected allowed, got %s (%s)", decision.Verdict, decision.Reason)
	}

	decision, err = engine.Evaluate(Request{
		ToolName:  "shell",
		Arguments: map[string]any{"command": "curl http://example.com"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected denied for unlisted command, got %s", decision.Verdict)
	}
	if decision.Rule != "tools.restrictions.shell.allowed_commands" {
		t.Fatalf("unexpected rule %q", decision.Rule)
	}
}

func TestEvaluateRestrictionBlockedCommands(t *testing.T) {
	loaded := basePolicy()
	loaded.Document.Tools.Restrictions = map[string]Restriction{
		"shell": {BlockedCommands: []string{"curl"}},
	}
	engine := newTestEngine(t, loaded, nil)

	decision, err := engine.Evaluate(Request{
		ToolName:  "shell",
		Arguments: map[string]any{"command": "ls | CURL http://x"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected denied, got %s", decision.Verdict)
	}
}

func TestEvaluateRestrictionPathOutsideAllowed(t *testing.T) {
	loaded := basePolicy()
	loaded.Document.Tools.Restrictions = map[string]Restriction{
		"read_file": {AllowedPaths: []string{"/workspace"}},
	}
	engine := newTestEngine(t, loaded, nil)

	decision, err := engine.Evaluate(Request{
		ToolName:  "read_file",
		Arguments: map[string]any{"path": "/home/user/secrets.txt"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected denied, got %s", decision.Verdict)
	}
}

func TestEvaluateAllowedPathsRequireComponentBoundary(t *testing.T) {
	loaded := basePolicy()
	loaded.Document.Tools.Restrictions = map[string]Restriction{
		"read_file": {AllowedPaths: []string{"/workspace"}},
	}
	engine := newTestEngine(t, loaded, nil)

	// A sibling directory sharing only a name prefix must not pass.
	decision, err := engine.Evaluate(Request{
		ToolName:  "read_file",
		Arguments: map[string]any{"path": "/workspace-evil/secrets.txt"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected sibling-prefix path denied, got %s (%s)", decision.Verdict, decision.Reason)
	}

	for _, path := range []string{"/workspace", "/workspace/src/main.go"} {
		decision, err = engine.Evaluate(Request{
			ToolName:  "read_file",
			Arguments: map[string]any{"path": path},
		})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if decision.Verdict != VerdictAllowed {
			t.Fatalf("expected %q allowed, got %s (%s)", path, decision.Verdict, decision.Reason)
		}
	}
}

func TestEvaluateMCPPathsRequireComponentBoundary(t *testing.T) {
	loaded := basePolicy()
	loaded.Document.MCPs.Settings = map[string]MCPSetting{
		"github": {AllowedPaths: []string{"/repos"}},
	}
	engine := newTestEngine(t, loaded, nil)

	decision, err := engine.Evaluate(Request{
		ToolName:  "github",
		Kind:      KindMCP,
		Arguments: map[string]any{"path": "/repos-mirror/x"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected sibling-prefix MCP path denied, got %s", decision.Verdict)
	}
}

func TestEvaluateDeniedPathsStayBroadPrefix(t *testing.T) {
	// Deny-side matching is raw prefix on purpose: over-matching fails closed.
	engine := newTestEngine(t, basePolicy(), nil)

	decision, err := engine.Evaluate(Request{
		ToolName:          "search",
		RequestedResource: "/etcetera/x",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected raw-prefix deny to cover /etcetera, got %s", decision.Verdict)
	}
}

func TestEvaluateTimeoutClampAndDeny(t *testing.T) {
	loaded := basePolicy()
	loaded.Document.Tools.Restrictions = map[string]Restriction{
		"shell": {TimeoutMaxSeconds: 60},
	}
	engine := newTestEngine(t, loaded, nil)

	decision, err := engine.Evaluate(Request{
		ToolName:  "shell",
		Arguments: map[string]any{"command": "sleep 90", "timeout_seconds": 300},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictAllowed {
		t.Fatalf("expected allowed, got %s (%s)", decision.Verdict, decision.Reason)
	}
	if decision.TimeoutSeconds != 60 {
		t.Fatalf("expected timeout clamped to 60, got %d", decision.TimeoutSeconds)
	}
	if !strings.Contains(decision.Reason, "clamped") {
		t.Fatalf("reason should record the clamp, got %q", decision.Reason)
	}

	loaded.Document.Tools.Restrictions = map[string]Restriction{
		"shell": {TimeoutMaxSeconds: 60, OnTimeoutExcess: TimeoutExcessDeny},
	}
	engine = newTestEngine(t, loaded, nil)
	decision, err = engine.Evaluate(Request{
		ToolName:  "shell",
		Arguments: map[string]any{"command": "sleep 90", "timeout_seconds": 300},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected denied on timeout excess, got %s", decision.Verdict)
	}
}

func TestEvaluateSkillAndMCP(t *testing.T) {
	engine := newTestEngine(t, basePolicy(), nil)

	decision, err := engine.Evaluate(Request{ToolName: "summarize", Kind: KindSkill})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictAllowed {
		t.Fatalf("expected skill allowed, got %s", decision.Verdict)
	}

	decision, err = engine.Evaluate(Request{ToolName: "translate", Kind: KindSkill})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected unknown skill denied, got %s", decision.Verdict)
	}

	decision, err = engine.Evaluate(Request{
		ToolName:  "github",
		Kind:      KindMCP,
		Arguments: map[string]any{"path": "/repos/org/repo"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictAllowed {
		t.Fatalf("expected MCP allowed, got %s (%s)", decision.Verdict, decision.Reason)
	}

	decision, err = engine.Evaluate(Request{
		ToolName:  "github",
		Kind:      KindMCP,
		Arguments: map[string]any{"path": "/tmp/elsewhere"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected MCP path denied, got %s", decision.Verdict)
	}
}

func TestEvaluateMCPRepoAllowList(t *testing.T) {
	loaded := basePolicy()
	loaded.Document.MCPs.Settings = map[string]MCPSetting{
		"github": {AllowedRepos: []string{"org/repo"}},
	}
	engine := newTestEngine(t, loaded, nil)

	decision, err := engine.Evaluate(Request{
		ToolName:  "github",
		Kind:      KindMCP,
		Arguments: map[string]any{"repo": "org/repo"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictAllowed {
		t.Fatalf("expected allowed repo, got %s (%s)", decision.Verdict, decision.Reason)
	}

	decision, err = engine.Evaluate(Request{
		ToolName:  "github",
		Kind:      KindMCP,
		Arguments: map[string]any{"repo": "org/other"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected unlisted repo denied, got %s", decision.Verdict)
	}
	if decision.Rule != "mcps.settings.github.allowed_repos" {
		t.Fatalf("unexpected rule %q", decision.Rule)
	}
}

func TestEvaluateEmptyToolName(t *testing.T) {
	engine := newTestEngine(t, basePolicy(), nil)

	_, err := engine.Evaluate(Request{ToolName: "   "})
	if !errors.Is(err, ErrEmptyToolName) {
		t.Fatalf("expected ErrEmptyToolName, got %v", err)
	}
}

func TestEvaluateUnknownKind(t *testing.T) {
	engine := newTestEngine(t, basePolicy(), nil)

	_, err := engine.Evaluate(Request{ToolName: "search", Kind: "widget"})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestEvaluateMCPWithoutPathWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	engine, err := NewEngine(basePolicy(), nil, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	// github carries allowed_paths, so an allowed request with no
	// recognizable path in its arguments should leave a warning behind.
	decision, err := engine.Evaluate(Request{
		ToolName:  "github",
		Kind:      KindMCP,
		Arguments: map[string]any{"query": "x"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictAllowed {
		t.Fatalf("expected allowed, got %s (%s)", decision.Verdict, decision.Reason)
	}
	if !strings.Contains(buf.String(), "no recognizable path") {
		t.Fatalf("expected a warning about the missing path, got %q", buf.String())
	}

	buf.Reset()
	decision, err = engine.Evaluate(Request{
		ToolName:  "github",
		Kind:      KindMCP,
		Arguments: map[string]any{"path": "/repos/org/repo"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictAllowed {
		t.Fatalf("expected allowed, got %s", decision.Verdict)
	}
	if strings.Contains(buf.String(), "no recognizable path") {
		t.Fatalf("unexpected warning for a request carrying a path: %q", buf.String())
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	engine := newTestEngine(t, basePolicy(), nil)
	req := Request{ToolName: "shell", Arguments: map[string]any{"command": "rm -rf / --no-preserve-root"}}

	first, err := engine.Evaluate(req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for n := 0; n < 5; n++ {
		again, err := engine.Evaluate(req)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if again != first {
			t.Fatalf("verdict changed across evaluations: %+v vs %+v", again, first)
		}
	}
}

func TestEvaluateAuditsDenials(t *testing.T) {
	sink := &audit.MemorySink{}
	engine := newTestEngine(t, basePolicy(), sink)

	if _, err := engine.Evaluate(Request{ToolName: "nope"}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := engine.Evaluate(Request{ToolName: "search", Arguments: map[string]any{"query": "x"}}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("expected exactly one audited denial, got %d", len(events))
	}
	if events[0].ToolName != "nope" {
		t.Fatalf("unexpected audited tool %q", events[0].ToolName)
	}
	if events[0].Reason == "" || events[0].Timestamp == "" {
		t.Fatalf("audit event missing fields: %+v", events[0])
	}
}

type failingSink struct{}

func (failingSink) RecordDenial(audit.Event) error { return errors.New("sink down") }

func TestEvaluateSinkFailureDoesNotAlterVerdict(t *testing.T) {
	engine := newTestEngine(t, basePolicy(), failingSink{})

	decision, err := engine.Evaluate(Request{ToolName: "nope"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected denied, got %s", decision.Verdict)
	}
}

func TestNewEngineRejectsUnvalidatedDocument(t *testing.T) {
	if _, err := NewEngine(LoadedPolicy{}, nil, nil); !errors.Is(err, ErrMissingSettings) {
		t.Fatalf("expected ErrMissingSettings, got %v", err)
	}
}
