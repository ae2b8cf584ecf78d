package timeline

import (
	"strings"

	"github.com/roginn/towd-you-so/internal/domain"
)

// Deltas accumulates streamed text that has not been finalized yet. The
// reasoning and content buffers are independent; each is absent until its
// first fragment arrives.
type Deltas struct {
	reasoning    strings.Builder
	hasReasoning bool
	content      strings.Builder
	hasContent   bool
}

func (d *Deltas) AppendReasoning(text string) {
	d.reasoning.WriteString(text)
	d.hasReasoning = true
}

func (d *Deltas) AppendContent(text string) {
	d.content.WriteString(text)
	d.hasContent = true
}

// Finalized clears the buffer superseded by a finalized entry of kind.
func (d *Deltas) Finalized(kind domain.Kind) {
	switch kind {
	case domain.KindReasoning:
		d.clearReasoning()
	case domain.KindAssistantMessage:
		d.clearContent()
	}
}

// TurnComplete clears both buffers, covering a dropped finalization frame.
func (d *Deltas) TurnComplete() {
	d.clearReasoning()
	d.clearContent()
}

// Reasoning returns the live reasoning text and whether the buffer exists.
func (d *Deltas) Reasoning() (string, bool) {
	return d.reasoning.String(), d.hasReasoning
}

// Content returns the live assistant text and whether the buffer exists.
func (d *Deltas) Content() (string, bool) {
	return d.content.String(), d.hasContent
}

func (d *Deltas) clearReasoning() {
	d.reasoning.Reset()
	d.hasReasoning = false
}

func (d *Deltas) clearContent() {
	d.content.Reset()
	d.hasContent = false
}
