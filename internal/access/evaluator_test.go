package access_test

import (
	"testing"

	"github.com/torbobase/torbo-base/internal/access"
)

func newFixture(level access.Level, scopes []string, toggles map[access.Category]bool) (*access.Store, *access.Registry, *access.Evaluator) {
	agents := access.NewStore()
	agents.Replace(map[string]*access.Agent{
		"primary": {
			ID:                  "primary",
			AccessLevel:         level,
			DirectoryScopes:     scopes,
			EnabledCapabilities: toggles,
		},
	}, access.Full)

	caps := access.NewRegistry()
	caps.Register(access.Capability{ToolName: "web_search", Category: access.CategoryWeb, MinimumLevel: access.Chat})
	caps.Register(access.Capability{ToolName: "read_file", Category: access.CategoryFiles, MinimumLevel: access.Read})
	caps.Register(access.Capability{ToolName: "write_file", Category: access.CategoryFiles, MinimumLevel: access.Write})
	caps.Register(access.Capability{ToolName: "run_command", Category: access.CategoryExecution, MinimumLevel: access.Exec})

	return agents, caps, access.NewEvaluator(agents, caps)
}

func TestEvaluateTool_AllowsWhenLevelSufficient(t *testing.T) {
	_, _, eval := newFixture(access.Read, nil, nil)

	r := eval.EvaluateTool("primary", "read_file")
	if r.Decision != access.DecisionAllow {
		t.Fatalf("expected Allow, got %s (violation: %v)", r.Decision, r.Violation)
	}
}

func TestEvaluateTool_DeniesWhenLevelTooLow(t *testing.T) {
	_, _, eval := newFixture(access.Chat, nil, nil)

	r := eval.EvaluateTool("primary", "read_file")
	if r.Decision != access.DecisionDeny {
		t.Fatalf("expected Deny, got %s", r.Decision)
	}
	if r.Violation == nil || r.Violation.Rule != "minimum-level" {
		t.Fatalf("expected minimum-level violation, got %+v", r.Violation)
	}
}

func TestEvaluateTool_DeniesWhenCategoryDisabled(t *testing.T) {
	_, _, eval := newFixture(access.Full, nil, map[access.Category]bool{access.CategoryFiles: false})

	r := eval.EvaluateTool("primary", "write_file")
	if r.Decision != access.DecisionDeny {
		t.Fatalf("expected Deny, got %s", r.Decision)
	}
	if r.Violation == nil || r.Violation.Rule != "agent-category-toggle" {
		t.Fatalf("expected agent-category-toggle violation, got %+v", r.Violation)
	}
}

func TestEvaluateTool_UnknownToolDenied(t *testing.T) {
	_, _, eval := newFixture(access.Full, nil, nil)

	r := eval.EvaluateTool("primary", "nonexistent_tool")
	if r.Decision != access.DecisionDeny {
		t.Fatalf("expected Deny for unknown tool, got %s", r.Decision)
	}
}

func TestToolVisible_RespectsServerWideToggle(t *testing.T) {
	_, _, eval := newFixture(access.Full, nil, nil)
	eval.SetServerCategoryToggles(map[access.Category]bool{access.CategoryExecution: false})

	if eval.ToolVisible("primary", "run_command") {
		t.Fatal("expected run_command to be hidden when execution category disabled server-wide")
	}
	if !eval.ToolVisible("primary", "read_file") {
		t.Fatal("expected read_file to remain visible")
	}
}

func TestRouteAllowed(t *testing.T) {
	_, _, eval := newFixture(access.Chat, nil, nil)

	if !eval.RouteAllowed("primary", access.Chat) {
		t.Fatal("expected CHAT route to be allowed at CHAT level")
	}
	if eval.RouteAllowed("primary", access.Write) {
		t.Fatal("expected WRITE route to be denied at CHAT level")
	}
}

func TestIsVIP_RequiresFullAndFlag(t *testing.T) {
	agents, _, eval := newFixture(access.Exec, nil, nil)
	if eval.IsVIP("primary") {
		t.Fatal("expected no VIP bypass below FULL")
	}

	agents.Replace(map[string]*access.Agent{
		"primary": {ID: "primary", AccessLevel: access.Full, VIP: true},
	}, access.Full)
	if !eval.IsVIP("primary") {
		t.Fatal("expected VIP bypass at FULL with VIP flag set")
	}
}
