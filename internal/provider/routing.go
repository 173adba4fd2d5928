package provider

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// scriptBudget is how long a routing.js classifier call is allowed to run
// before it is interrupted and the built-in heuristic takes over.
const scriptBudget = 50 * time.Millisecond

// RoutingInput is what a routing decision is made from.
type RoutingInput struct {
	Message  string
	RepoPath string
	// Providers is the capability list of available provider names, so a
	// script can make a decision without hardcoding vendor names.
	Providers []string
}

// Router picks a provider name for a session created without an explicit
// provider (spec §4.3 create(): "selects a provider (explicit or routed by
// a simple classifier)").
type Router interface {
	Route(in RoutingInput) string
}

// HeuristicRouter is the built-in default classifier: an explicit
// "@provider" hint, then file extensions mentioned in the message, then
// the first listed provider. RepoPath (and so repo size) is not consulted.
type HeuristicRouter struct{}

func (HeuristicRouter) Route(in RoutingInput) string {
	if name := explicitHint(in.Message); name != "" && contains(in.Providers, name) {
		return name
	}

	switch {
	case containsAny(in.Message, ".py", ".ipynb"), containsAny(in.Message, ".rs", ".go"):
		if contains(in.Providers, "codex") {
			return "codex"
		}
	}

	if len(in.Providers) > 0 {
		return in.Providers[0]
	}
	return ""
}

func explicitHint(message string) string {
	for _, word := range strings.Fields(message) {
		if strings.HasPrefix(word, "@") {
			return strings.TrimPrefix(word, "@")
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ScriptRouter runs an operator-supplied routing.js through goja, bounded
// by scriptBudget, falling back to a HeuristicRouter on any error, panic,
// or timeout. Adapted from the teacher's workflow goja.go sandboxed-script
// node (global bindings set on a fresh *goja.Runtime per call, then run).
type ScriptRouter struct {
	scriptPath string
	fallback   Router
}

func NewScriptRouter(dataDir string) *ScriptRouter {
	return &ScriptRouter{
		scriptPath: filepath.Join(dataDir, "routing.js"),
		fallback:   HeuristicRouter{},
	}
}

func (s *ScriptRouter) Route(in RoutingInput) string {
	src, err := os.ReadFile(s.scriptPath)
	if err != nil {
		return s.fallback.Route(in)
	}

	result := make(chan string, 1)

	vm := goja.New()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- ""
			}
		}()

		vm.Set("message", in.Message)
		vm.Set("repoPath", in.RepoPath)
		vm.Set("providers", in.Providers)

		v, err := vm.RunString(string(src) + "\nroute(message, repoPath, providers)")
		if err != nil {
			result <- ""
			return
		}
		result <- v.String()
	}()

	timer := time.NewTimer(scriptBudget)
	defer timer.Stop()

	select {
	case name := <-result:
		if name != "" && contains(in.Providers, name) {
			return name
		}
	case <-timer.C:
		vm.Interrupt("routing.js exceeded its time budget")
	}

	return s.fallback.Route(in)
}

var _ Router = (*ScriptRouter)(nil)
