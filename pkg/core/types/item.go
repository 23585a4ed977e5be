package types

// Role identifies who produced a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind identifies a content fragment kind within an item.
type PartKind string

const (
	PartText  PartKind = "text"
	PartAudio PartKind = "audio"
	// PartTranscript carries the spoken-text rendering of audio content.
	// It is tracked separately from PartAudio: an assistant item typically
	// accumulates both in parallel.
	PartTranscript PartKind = "transcript"
)

// ItemStatus is the lifecycle state of a conversation item. Transitions
// only move forward; a completed item never returns to in_progress.
type ItemStatus string

const (
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
)

// ContentPart is one accumulated content fragment of an item. Text and
// transcript payloads accumulate into Text; audio payloads into Audio.
type ContentPart struct {
	Kind      PartKind `json:"kind"`
	Text      string   `json:"text,omitempty"`
	Audio     []byte   `json:"audio,omitempty"`
	Completed bool     `json:"completed"`
}

// Clone returns a deep copy of the part.
func (p ContentPart) Clone() ContentPart {
	out := p
	if p.Audio != nil {
		out.Audio = append([]byte(nil), p.Audio...)
	}
	return out
}

// ConversationItem is one turn-level or tool-level unit of conversation.
type ConversationItem struct {
	// ID is assigned by the producing side: the endpoint for assistant and
	// tool items, the session for user items it originates.
	ID string `json:"id"`

	Role Role `json:"role"`

	// Parts preserve the order in which content kinds were first observed.
	Parts []ContentPart `json:"parts,omitempty"`

	Status ItemStatus `json:"status"`

	// Sequence reflects arrival order within the conversation. It is
	// assigned once, on first observation, and never reassigned.
	Sequence int64 `json:"sequence"`
}

// Part returns the part with the given kind, if present.
func (it ConversationItem) Part(kind PartKind) (ContentPart, bool) {
	for _, p := range it.Parts {
		if p.Kind == kind {
			return p, true
		}
	}
	return ContentPart{}, false
}

// Text returns the accumulated text part payload.
func (it ConversationItem) Text() string {
	p, _ := it.Part(PartText)
	return p.Text
}

// Transcript returns the accumulated transcript part payload.
func (it ConversationItem) Transcript() string {
	p, _ := it.Part(PartTranscript)
	return p.Text
}

// Clone returns a deep copy of the item.
func (it ConversationItem) Clone() ConversationItem {
	out := it
	if it.Parts != nil {
		out.Parts = make([]ContentPart, len(it.Parts))
		for i, p := range it.Parts {
			out.Parts[i] = p.Clone()
		}
	}
	return out
}

// Delta is a transient streamed update addressed to exactly one
// (item id, part kind) pair. It is applied to conversation state and
// discarded; deltas themselves are never stored.
type Delta struct {
	ItemID string   `json:"item_id"`
	Kind   PartKind `json:"kind"`

	// Text carries the payload fragment for text and transcript kinds.
	Text string `json:"text,omitempty"`
	// Audio carries the payload fragment for the audio kind. Bytes are
	// opaque PCM; the bridge never inspects them.
	Audio []byte `json:"audio,omitempty"`

	// Final marks the addressed part complete. When every part of the item
	// is complete the item itself completes.
	Final bool `json:"final,omitempty"`
}
