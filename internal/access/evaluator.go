package access

import "fmt"

// Decision is the outcome of an access-control evaluation.
type Decision int

const (
	// DecisionAllow means the call is permitted immediately.
	DecisionAllow Decision = iota
	// DecisionDeny means the call is not permitted.
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Violation describes why a call was denied.
type Violation struct {
	Rule    string
	Message string
}

func (v Violation) Error() string {
	return fmt.Sprintf("[%s] %s", v.Rule, v.Message)
}

// Result is the full output of an access-control evaluation.
type Result struct {
	Decision  Decision
	Violation *Violation
}

// Evaluator answers "is this tool visible / may this tool run" questions
// against the live agent store and capability registry. Evaluation is
// deterministic and holds no model-facing state.
//
// The evaluation order mirrors a first-match-wins capability engine even
// though the underlying predicate is a level comparison rather than a glob
// match: level check, then category toggles (agent, then server-wide), with
// the first failing check producing the Violation. Unmatched or unconfigured
// tools default-deny.
type Evaluator struct {
	agents *Store
	caps   *Registry
	// serverCategoryToggle mirrors Agent.EnabledCapabilities but applies to
	// every agent; an explicit false here disables the category gateway-wide.
	serverCategoryToggle map[Category]bool
}

// NewEvaluator returns an Evaluator backed by the given agent store and
// capability registry.
func NewEvaluator(agents *Store, caps *Registry) *Evaluator {
	return &Evaluator{agents: agents, caps: caps}
}

// SetServerCategoryToggles replaces the server-wide category enable map.
func (e *Evaluator) SetServerCategoryToggles(toggles map[Category]bool) {
	e.serverCategoryToggle = toggles
}

func (e *Evaluator) serverCategoryEnabled(c Category) bool {
	if e.serverCategoryToggle == nil {
		return true
	}
	enabled, present := e.serverCategoryToggle[c]
	return !present || enabled
}

// ToolVisible reports whether toolName should be advertised to the model for
// the given agent: the agent must meet the tool's minimum level, and the
// category must not be disabled at either the agent or server scope.
func (e *Evaluator) ToolVisible(agentID, toolName string) bool {
	cap, ok := e.caps.Lookup(toolName)
	if !ok {
		return false
	}
	agent := e.agents.Get(agentID)
	if agent == nil {
		return false
	}
	effective := e.agents.EffectiveLevel(agentID)
	if effective < cap.MinimumLevel {
		return false
	}
	if !agent.CategoryEnabled(cap.Category) {
		return false
	}
	if !e.serverCategoryEnabled(cap.Category) {
		return false
	}
	return true
}

// EvaluateTool re-checks, at dispatch time, whether agentID may execute
// toolName. This is the defense-in-depth check the tool executor performs
// even after the model has already been shown a filtered tool list.
func (e *Evaluator) EvaluateTool(agentID, toolName string) Result {
	cap, ok := e.caps.Lookup(toolName)
	if !ok {
		return Result{Decision: DecisionDeny, Violation: &Violation{
			Rule: "<unknown-tool>", Message: fmt.Sprintf("tool %q is not in the catalogue", toolName),
		}}
	}

	agent := e.agents.Get(agentID)
	if agent == nil {
		return Result{Decision: DecisionDeny, Violation: &Violation{
			Rule: "<unknown-agent>", Message: fmt.Sprintf("agent %q is not configured", agentID),
		}}
	}

	effective := e.agents.EffectiveLevel(agentID)
	if effective < cap.MinimumLevel {
		return Result{Decision: DecisionDeny, Violation: &Violation{
			Rule:    "minimum-level",
			Message: fmt.Sprintf("requires %s access level, agent has %s", cap.MinimumLevel, effective),
		}}
	}

	if !agent.CategoryEnabled(cap.Category) {
		return Result{Decision: DecisionDeny, Violation: &Violation{
			Rule: "agent-category-toggle", Message: fmt.Sprintf("category %q disabled for agent %q", cap.Category, agentID),
		}}
	}
	if !e.serverCategoryEnabled(cap.Category) {
		return Result{Decision: DecisionDeny, Violation: &Violation{
			Rule: "server-category-toggle", Message: fmt.Sprintf("category %q disabled server-wide", cap.Category),
		}}
	}

	return Result{Decision: DecisionAllow}
}

// RouteAllowed implements the HTTP dispatcher's ACL step: the effective level
// for agentID must be at least required.
func (e *Evaluator) RouteAllowed(agentID string, required Level) bool {
	return e.agents.EffectiveLevel(agentID) >= required
}

// IsVIP reports whether agentID has reached Full and is flagged VIP, which
// waives path-scope and core-file locks (fork-bomb/root-deletion patterns
// remain blocked regardless).
func (e *Evaluator) IsVIP(agentID string) bool {
	agent := e.agents.Get(agentID)
	if agent == nil {
		return false
	}
	return agent.VIP && e.agents.EffectiveLevel(agentID) >= Full
}
