// Package conversation holds the per-session conversation log. The log is
// the merged view of streamed deltas: callers see whole items, never the
// fragments they arrived in.
package conversation

import (
	"fmt"
	"sync"

	"github.com/voicewire/voicewire/pkg/core"
	"github.com/voicewire/voicewire/pkg/core/types"
)

// Log accumulates conversation items for one session. All methods are safe
// for concurrent use; snapshots returned to callers are deep copies and
// never alias internal state.
type Log struct {
	mu      sync.Mutex
	items   []*types.ConversationItem
	byID    map[string]*types.ConversationItem
	nextSeq int64
}

func NewLog() *Log {
	return &Log{byID: make(map[string]*types.ConversationItem)}
}

// Append records an item that arrived whole, such as a user message echoed
// back by the endpoint or a tool output. An item with a known ID is ignored
// so that echoes of locally-appended items do not duplicate.
func (l *Log) Append(item types.ConversationItem) types.ConversationItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byID[item.ID]; ok {
		return existing.Clone()
	}
	stored := item.Clone()
	stored.Sequence = l.nextSeq
	l.nextSeq++
	ref := &stored
	l.items = append(l.items, ref)
	l.byID[stored.ID] = ref
	return stored.Clone()
}

// ApplyDelta merges one streamed fragment into the log. An unknown item ID
// creates an in-progress assistant item; the addressed part is created on
// first use and parts keep the order in which their kinds first appeared.
// A delta addressed to a completed item is rejected.
func (l *Log) ApplyDelta(d types.Delta) (types.ConversationItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.byID[d.ItemID]
	if !ok {
		item = &types.ConversationItem{
			ID:       d.ItemID,
			Role:     types.RoleAssistant,
			Status:   types.StatusInProgress,
			Sequence: l.nextSeq,
		}
		l.nextSeq++
		l.items = append(l.items, item)
		l.byID[d.ItemID] = item
	}
	if item.Status == types.StatusCompleted {
		return types.ConversationItem{}, core.NewMalformedDeltaError(
			fmt.Sprintf("delta for completed item %s", d.ItemID))
	}

	part := findPart(item, d.Kind)
	switch d.Kind {
	case types.PartAudio:
		part.Audio = append(part.Audio, d.Audio...)
	default:
		part.Text += d.Text
	}
	if d.Final {
		part.Completed = true
		l.maybeComplete(item)
	}
	return item.Clone(), nil
}

// CompleteItem marks the item and all its parts completed, regardless of
// per-part finality. It is the terminal transition driven by the endpoint's
// item-done signal.
func (l *Log) CompleteItem(id string) (types.ConversationItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.byID[id]
	if !ok {
		return types.ConversationItem{}, false
	}
	for i := range item.Parts {
		item.Parts[i].Completed = true
	}
	item.Status = types.StatusCompleted
	return item.Clone(), true
}

// Get returns a snapshot of the item with the given ID.
func (l *Log) Get(id string) (types.ConversationItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.byID[id]
	if !ok {
		return types.ConversationItem{}, false
	}
	return item.Clone(), true
}

// Items returns snapshots of every item in arrival order.
func (l *Log) Items() []types.ConversationItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.ConversationItem, len(l.items))
	for i, item := range l.items {
		out[i] = item.Clone()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func findPart(item *types.ConversationItem, kind types.PartKind) *types.ContentPart {
	for i := range item.Parts {
		if item.Parts[i].Kind == kind {
			return &item.Parts[i]
		}
	}
	item.Parts = append(item.Parts, types.ContentPart{Kind: kind})
	return &item.Parts[len(item.Parts)-1]
}

func (l *Log) maybeComplete(item *types.ConversationItem) {
	for _, p := range item.Parts {
		if !p.Completed {
			return
		}
	}
	item.Status = types.StatusCompleted
}
