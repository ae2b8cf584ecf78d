package timeline

import "github.com/roginn/towd-you-so/internal/domain"

// ResultIndex maps correlation keys to result entries. Tool and sub-agent
// keys live in separate namespaces.
type ResultIndex struct {
	tools     map[string]domain.Entry
	subAgents map[string]domain.Entry
}

// BuildResultIndex indexes every result entry in one pass. When a key has
// several results the latest one wins.
func BuildResultIndex(entries []domain.Entry) ResultIndex {
	ix := ResultIndex{
		tools:     make(map[string]domain.Entry),
		subAgents: make(map[string]domain.Entry),
	}
	for _, e := range entries {
		switch d := e.Data.(type) {
		case domain.ToolResult:
			ix.tools[d.CallID] = e
		case domain.SubAgentResult:
			ix.subAgents[d.CorrelationKey()] = e
		}
	}
	return ix
}

// Lookup returns the result paired with call. Non-call entries and calls
// still waiting for a result yield false.
func (ix ResultIndex) Lookup(call domain.Entry) (domain.Entry, bool) {
	var (
		res domain.Entry
		ok  bool
	)
	switch d := call.Data.(type) {
	case domain.ToolCall:
		res, ok = ix.tools[d.CallID]
	case domain.SubAgentCall:
		res, ok = ix.subAgents[d.CorrelationKey()]
	}
	return res, ok
}

// Len returns the number of indexed results.
func (ix ResultIndex) Len() int {
	return len(ix.tools) + len(ix.subAgents)
}
