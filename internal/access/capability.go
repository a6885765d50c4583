package access

// Category is the classification of a tool for the purpose of per-category
// enable/disable toggles, independent of its minimum access level.
type Category string

const (
	CategoryWeb           Category = "web"
	CategoryFiles         Category = "files"
	CategoryExecution     Category = "execution"
	CategoryCalendar      Category = "calendar"
	CategoryAutomation    Category = "automation"
	CategoryScreen        Category = "screen"
	CategoryClipboard     Category = "clipboard"
	CategorySystem        Category = "system"
	CategorySearch        Category = "search"
	CategoryNotifications Category = "notifications"
	CategoryNetwork       Category = "network"
	CategoryScripting     Category = "scripting"
	CategoryMemory        Category = "memory"
	CategoryImages        Category = "images"
	CategoryBrowser       Category = "browser"
)

// Capability is the static metadata the catalogue keeps for every tool: its
// category (for toggling), and the minimum access level required to see it.
// The tool's JSON-schema parameter shape lives alongside the tool definition
// in package tools; it is not duplicated here.
type Capability struct {
	ToolName     string
	Category     Category
	MinimumLevel Level
}

// Registry is the fixed, build-time catalogue of tool capabilities. It is
// populated once at startup by package tools and never mutated afterward.
type Registry struct {
	byTool map[string]Capability
}

// NewRegistry returns an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{byTool: make(map[string]Capability)}
}

// Register adds a capability entry. It panics on duplicate tool names, which
// indicates a programming error in catalogue construction.
func (r *Registry) Register(c Capability) {
	if _, dup := r.byTool[c.ToolName]; dup {
		panic("access: duplicate capability registration: " + c.ToolName)
	}
	r.byTool[c.ToolName] = c
}

// Lookup returns the capability for a tool name, or false if unknown.
func (r *Registry) Lookup(toolName string) (Capability, bool) {
	c, ok := r.byTool[toolName]
	return c, ok
}

// All returns every registered capability, order unspecified.
func (r *Registry) All() []Capability {
	out := make([]Capability, 0, len(r.byTool))
	for _, c := range r.byTool {
		out = append(out, c)
	}
	return out
}
