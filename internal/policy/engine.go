package policy

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/agentgate-io/agentgate/internal/audit"
)

type Kind string

const (
	KindTool  Kind = "tool"
	KindSkill Kind = "skill"
	KindMCP   Kind = "mcp"
)

// Request is one attempted agent action. Arguments is the tool-specific bag;
// the engine only reads it through the typed extractions in args.go.
type Request struct {
	ToolName          string
	Kind              Kind
	Arguments         map[string]any
	RequestedResource string
	SessionID         string
}

const (
	VerdictAllowed = "allowed"
	VerdictDenied  = "denied"
)

// Decision is the verdict for a single request. TimeoutSeconds is the
// effective downstream timeout after any clamping; zero when none applies.
type Decision struct {
	Verdict        string
	Reason         string
	Rule           string
	TimeoutSeconds int
	PolicyVersion  string
	PolicyHash     string
}

func (d Decision) Allowed() bool { return d.Verdict == VerdictAllowed }

// Engine evaluates requests against one loaded policy document. It never
// mutates the document; identical (request, document) pairs always yield the
// identical verdict. Denial auditing is its only side effect.
type Engine struct {
	loaded LoadedPolicy
	sink   audit.Sink
	logger *slog.Logger
}

// NewEngine refuses documents that did not pass validation.
func NewEngine(loaded LoadedPolicy, sink audit.Sink, logger *slog.Logger) (*Engine, error) {
	if loaded.Document.Settings == nil {
		return nil, ErrMissingSettings
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{loaded: loaded, sink: sink, logger: logger}, nil
}

// Policy returns the loaded policy the engine evaluates against.
func (e *Engine) Policy() LoadedPolicy { return e.loaded }

// Evaluate produces the verdict for req. An empty tool name or an
// unrecognized kind is a validation error, not a denial.
func (e *Engine) Evaluate(req Request) (Decision, error) {
	if strings.TrimSpace(req.ToolName) == "" {
		return Decision{}, ErrEmptyToolName
	}
	switch req.Kind {
	case "":
		req.Kind = KindTool
	case KindTool, KindSkill, KindMCP:
	default:
		return Decision{}, fmt.Errorf("%w %q", ErrUnknownKind, req.Kind)
	}

	decision := evaluate(e.loaded.Document, req)
	decision.PolicyVersion = e.loaded.Document.Version
	decision.PolicyHash = e.loaded.Hash

	if req.Kind == KindMCP && decision.Verdict == VerdictAllowed {
		if setting, ok := e.loaded.Document.MCPs.Settings[req.ToolName]; ok && len(setting.AllowedPaths) > 0 {
			if _, found := extractPath(req.Arguments); !found {
				e.logger.Warn("path-constrained MCP request carried no recognizable path",
					"mcp", req.ToolName, "session", req.SessionID)
			}
		}
	}

	if decision.Verdict == VerdictDenied && e.loaded.Document.Settings.LogDenials {
		command, _ := extractCommand(req.Arguments)
		event := audit.Event{
			Timestamp:     audit.Now(),
			Kind:          string(req.Kind),
			ToolName:      req.ToolName,
			Resource:      req.RequestedResource,
			Command:       command,
			Reason:        decision.Reason,
			Rule:          decision.Rule,
			PolicyVersion: decision.PolicyVersion,
			PolicyHash:    decision.PolicyHash,
			SessionID:     req.SessionID,
		}
		// Sink failures never alter the verdict already computed.
		if err := e.sink.RecordDenial(event); err != nil {
			e.logger.Error("audit sink failed", "tool", req.ToolName, "error", err)
		}
	}

	return decision, nil
}

// evaluate applies the decision ladder; the first applicable rule wins and
// deny precedence beats allow.
func evaluate(doc Document, req Request) Decision {
	// Resource deny runs first, regardless of default_deny.
	for _, target := range resourceTargets(req) {
		if prefix, ok := matchDeniedPath(doc.Resources.DeniedPaths, target); ok {
			return Decision{
				Verdict: VerdictDenied,
				Reason:  fmt.Sprintf("resource %q matches denied path %q", target, prefix),
				Rule:    "resources.denied_paths:" + prefix,
			}
		}
	}

	command, hasCommand := extractCommand(req.Arguments)

	if hasCommand {
		if sig, ok := matchDestructive(command, doc.ExtraBlockedCommands); ok {
			return Decision{
				Verdict: VerdictDenied,
				Reason:  fmt.Sprintf("command matches blocked signature %q", sig),
				Rule:    "commands.blocked:" + sig,
			}
		}
	}

	if req.Kind == KindTool {
		if restriction, ok := doc.Tools.Restrictions[req.ToolName]; ok {
			return evaluateRestriction(req, restriction, command, hasCommand)
		}
	}

	switch req.Kind {
	case KindTool:
		if slices.Contains(doc.Tools.Allowed, req.ToolName) {
			return allowDecision(req, "tools.allowed", fmt.Sprintf("tool %q is allow-listed", req.ToolName))
		}
	case KindSkill:
		if slices.Contains(doc.Skills.Allowed, req.ToolName) {
			return allowDecision(req, "skills.allowed", fmt.Sprintf("skill %q is allow-listed", req.ToolName))
		}
	case KindMCP:
		if slices.Contains(doc.MCPs.Allowed, req.ToolName) {
			if setting, ok := doc.MCPs.Settings[req.ToolName]; ok {
				if len(setting.AllowedPaths) > 0 {
					if path, found := extractPath(req.Arguments); found && !underAny(setting.AllowedPaths, path) {
						return Decision{
							Verdict: VerdictDenied,
							Reason:  fmt.Sprintf("path %q is outside the allowed paths for MCP server %q", path, req.ToolName),
							Rule:    "mcps.settings." + req.ToolName + ".allowed_paths",
						}
					}
				}
				if len(setting.AllowedRepos) > 0 {
					if repo, found := extractRepo(req.Arguments); found && !slices.Contains(setting.AllowedRepos, repo) {
						return Decision{
							Verdict: VerdictDenied,
							Reason:  fmt.Sprintf("repository %q is not allowed for MCP server %q", repo, req.ToolName),
							Rule:    "mcps.settings." + req.ToolName + ".allowed_repos",
						}
					}
				}
			}
			return allowDecision(req, "mcps.allowed", fmt.Sprintf("MCP server %q is allow-listed", req.ToolName))
		}
	}

	if doc.Settings.DefaultDeny {
		return Decision{
			Verdict: VerdictDenied,
			Reason:  "no matching allow rule",
			Rule:    "settings.default_deny",
		}
	}
	return Decision{
		Verdict: VerdictAllowed,
		Reason:  "no restriction configured",
	}
}

func evaluateRestriction(req Request, r Restriction, command string, hasCommand bool) Decision {
	rulePrefix := "tools.restrictions." + req.ToolName

	if hasCommand {
		if len(r.AllowedCommands) > 0 {
			root := commandRoot(command)
			if !slices.Contains(r.AllowedCommands, root) {
				return Decision{
					Verdict: VerdictDenied,
					Reason:  fmt.Sprintf("command %q is not in the allowed commands for tool %q", root, req.ToolName),
					Rule:    rulePrefix + ".allowed_commands",
				}
			}
		}
		normalized := normalizeCommand(command)
		for _, blocked := range r.BlockedCommands {
			if blocked == "" {
				continue
			}
			if strings.Contains(normalized, normalizeCommand(blocked)) {
				return Decision{
					Verdict: VerdictDenied,
					Reason:  fmt.Sprintf("command matches blocked command %q for tool %q", blocked, req.ToolName),
					Rule:    rulePrefix + ".blocked_commands",
				}
			}
		}
	}

	if len(r.AllowedPaths) > 0 {
		if path, ok := extractPath(req.Arguments); ok && !underAny(r.AllowedPaths, path) {
			return Decision{
				Verdict: VerdictDenied,
				Reason:  fmt.Sprintf("path %q is outside the allowed paths for tool %q", path, req.ToolName),
				Rule:    rulePrefix + ".allowed_paths",
			}
		}
	}

	decision := Decision{
		Verdict: VerdictAllowed,
		Reason:  fmt.Sprintf("within restriction for tool %q", req.ToolName),
		Rule:    rulePrefix,
	}
	if requested, ok := extractTimeout(req.Arguments); ok {
		decision.TimeoutSeconds = requested
		if r.TimeoutMaxSeconds > 0 && requested > r.TimeoutMaxSeconds {
			if r.OnTimeoutExcess == TimeoutExcessDeny {
				return Decision{
					Verdict: VerdictDenied,
					Reason:  fmt.Sprintf("requested timeout %ds exceeds the maximum %ds for tool %q", requested, r.TimeoutMaxSeconds, req.ToolName),
					Rule:    rulePrefix + ".timeout_max_seconds",
				}
			}
			decision.TimeoutSeconds = r.TimeoutMaxSeconds
			decision.Reason = fmt.Sprintf("within restriction for tool %q (timeout clamped to %ds)", req.ToolName, r.TimeoutMaxSeconds)
		}
	} else if r.TimeoutMaxSeconds > 0 {
		decision.TimeoutSeconds = r.TimeoutMaxSeconds
	}
	return decision
}

func allowDecision(req Request, rule string, reason string) Decision {
	decision := Decision{Verdict: VerdictAllowed, Reason: reason, Rule: rule}
	if requested, ok := extractTimeout(req.Arguments); ok {
		decision.TimeoutSeconds = requested
	}
	return decision
}

func resourceTargets(req Request) []string {
	var targets []string
	if req.RequestedResource != "" {
		targets = append(targets, req.RequestedResource)
	}
	if path, ok := extractPath(req.Arguments); ok {
		targets = append(targets, path)
	}
	return targets
}

// matchDeniedPath matches by raw prefix, so /etc also covers /etcetera.
// Over-matching on the deny side fails closed and stays that way.
func matchDeniedPath(denied []string, target string) (string, bool) {
	cleaned := filepath.Clean(target)
	for _, prefix := range denied {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(cleaned, filepath.Clean(prefix)) {
			return prefix, true
		}
	}
	return "", false
}

// underAny reports whether path falls under one of the allowed prefixes.
// Unlike the deny-side matching, allow matching requires a path-component
// boundary: /workspace admits /workspace/src but not /workspace-evil.
func underAny(prefixes []string, path string) bool {
	cleaned := filepath.Clean(path)
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		allowed := filepath.Clean(prefix)
		if allowed == string(filepath.Separator) {
			return true
		}
		if cleaned == allowed || strings.HasPrefix(cleaned, allowed+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// commandRoot extracts the root command name from a command line, stripping
// any leading path. Example: "/usr/bin/docker run" returns "docker".
func commandRoot(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}
