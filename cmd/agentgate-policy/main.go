package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/agentgate-io/agentgate/internal/policy"
)

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "lint":
		return handleLint(args[2:], stdout, stderr)
	case "eval":
		return handleEval(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: agentgate-policy <lint|eval> [flags]")
	fmt.Fprintln(w, "  lint <policy.yaml>                 validate a policy document")
	fmt.Fprintln(w, "  eval -policy <file> -tool <name>   dry-run a request against a policy")
}

func handleLint(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "lint requires <policy.yaml>")
		return 2
	}

	loaded, err := policy.Load(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "ok version=%s hash=%s default_deny=%v\n",
		loaded.Document.Version, loaded.Hash, loaded.Document.Settings.DefaultDeny)
	return 0
}

func handleEval(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	policyPath := fs.String("policy", "", "path to policy document")
	tool := fs.String("tool", "", "tool/skill/MCP name")
	kind := fs.String("kind", "tool", "request kind: tool, skill or mcp")
	resource := fs.String("resource", "", "requested resource path")
	argsJSON := fs.String("args", "", "tool arguments as a JSON object")
	jsonOut := fs.Bool("json", false, "print the decision as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *policyPath == "" || *tool == "" {
		fmt.Fprintln(stderr, "eval requires -policy and -tool")
		fs.Usage()
		return 2
	}

	arguments := map[string]any{}
	if *argsJSON != "" {
		if err := json.Unmarshal([]byte(*argsJSON), &arguments); err != nil {
			fmt.Fprintf(stderr, "invalid -args: %v\n", err)
			return 2
		}
	}

	loaded, err := policy.Load(*policyPath)
	if err != nil {
		fmt.Fprintf(stderr, "load policy: %v\n", err)
		return 2
	}
	engine, err := policy.NewEngine(loaded, nil, nil)
	if err != nil {
		fmt.Fprintf(stderr, "engine: %v\n", err)
		return 2
	}

	decision, err := engine.Evaluate(policy.Request{
		ToolName:          *tool,
		Kind:              policy.Kind(*kind),
		Arguments:         arguments,
		RequestedResource: *resource,
	})
	if err != nil {
		fmt.Fprintf(stderr, "evaluate: %v\n", err)
		return 2
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(decision)
	} else {
		fmt.Fprintf(stdout, "%s: %s\n", decision.Verdict, decision.Reason)
	}

	if !decision.Allowed() {
		return 1
	}
	return 0
}
