package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/voicewire/voicewire/pkg/bridge/protocol"
	"github.com/voicewire/voicewire/pkg/core"
	"github.com/voicewire/voicewire/pkg/core/types"
)

type registeredTool struct {
	reg    types.ToolRegistration
	schema *jsonschema.Schema
}

// toolRegistry maps tool names to registrations. Registration order is
// preserved so the advertised tool list is stable across re-sends.
type toolRegistry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]registeredTool
}

func newToolRegistry() *toolRegistry {
	return &toolRegistry{tools: make(map[string]registeredTool)}
}

func (r *toolRegistry) register(reg types.ToolRegistration) error {
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return core.NewInvalidRequestError("tool name must not be empty")
	}
	if reg.Handler == nil {
		return core.NewInvalidRequestError(fmt.Sprintf("tool %q has no handler", name))
	}
	reg.Name = name

	schema, err := compileArgSchema(reg.Schema)
	if err != nil {
		return core.NewInvalidRequestError(fmt.Sprintf("tool %q schema: %v", name, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = registeredTool{reg: reg, schema: schema}
	return nil
}

func (r *toolRegistry) lookup(name string) (registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *toolRegistry) definitions() []protocol.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]protocol.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		defs = append(defs, protocol.ToolDefinition{
			Type:        "function",
			Name:        tool.reg.Name,
			Description: tool.reg.Description,
			Parameters:  tool.reg.Schema,
		})
	}
	return defs
}

func compileArgSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}

// checkArgs parses and validates the accumulated argument JSON. An empty
// argument string is treated as an empty object, matching endpoints that
// omit arguments for parameterless tools.
func (t registeredTool) checkArgs(raw string) (json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, core.NewInvalidRequestError(fmt.Sprintf("tool %q arguments are not valid JSON: %v", t.reg.Name, err))
	}
	if t.schema != nil {
		if err := t.schema.Validate(doc); err != nil {
			return nil, core.NewInvalidRequestError(fmt.Sprintf("tool %q arguments rejected by schema: %v", t.reg.Name, err))
		}
	}
	return json.RawMessage(raw), nil
}
