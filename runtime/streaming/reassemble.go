// Package streaming reassembles the model.Chunk sequence a provider adapter
// emits back into ordered content blocks (spec §4.1 "Streaming", §8
// invariants 2-3). It is the single place both the gateway's SSE encoder and
// the orchestrator's post-stream persistence consult, so the two can never
// disagree about block identity or insert-index.
package streaming

import (
	"errors"
	"io"
	"sort"

	"github.com/tensorzero/gateway/runtime/model"
)

// Reassembler accumulates model.Chunk values into a final ordered content
// sequence. It is not safe for concurrent use; a single inference's stream
// owns one Reassembler.
type Reassembler struct {
	order   []string // block ids in first-occurrence order
	kind    map[string]model.ChunkType
	text    map[string]*stringsBuilder
	toolName map[string]string

	usage        model.Usage
	finishReason model.FinishReason
}

// NewReassembler constructs an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		kind:     make(map[string]model.ChunkType),
		text:     make(map[string]*stringsBuilder),
		toolName: make(map[string]string),
	}
}

// stringsBuilder is a tiny indirection so zero-value map access stays safe
// without importing strings.Builder pointer juggling at every call site.
type stringsBuilder struct{ s string }

func (b *stringsBuilder) WriteString(s string) { b.s += s }
func (b *stringsBuilder) String() string        { return b.s }

// Add folds one chunk into the accumulated state. Usage and stop chunks
// carry no block id and only update the terminal fields.
func (r *Reassembler) Add(c model.Chunk) {
	switch c.Type {
	case model.ChunkUsage:
		if c.Usage != nil {
			r.usage = *c.Usage
		}
		return
	case model.ChunkStop:
		r.finishReason = c.FinishReason
		return
	}

	if _, seen := r.kind[c.ID]; !seen {
		r.order = append(r.order, c.ID)
		r.kind[c.ID] = c.Type
		r.text[c.ID] = &stringsBuilder{}
	}

	switch c.Type {
	case model.ChunkText, model.ChunkThought:
		r.text[c.ID].WriteString(c.Text)
	case model.ChunkToolCall:
		if c.ToolName != "" {
			r.toolName[c.ID] = c.ToolName
		}
		r.text[c.ID].WriteString(c.ArgsFragment)
	}
}

// InsertIndex returns the position of id within the conceptual full ordered
// content array: the count of distinct block ids observed up to and
// including id's first occurrence, minus one (spec §4.1, §8 invariant 3).
func (r *Reassembler) InsertIndex(id string) int {
	for i, existing := range r.order {
		if existing == id {
			return i
		}
	}
	return -1
}

// Content returns the final ordered content blocks assembled from every
// chunk seen so far.
func (r *Reassembler) Content() []model.ContentBlock {
	blocks := make([]model.ContentBlock, 0, len(r.order))
	ids := append([]string(nil), r.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		return r.InsertIndex(ids[i]) < r.InsertIndex(ids[j])
	})
	for _, id := range ids {
		switch r.kind[id] {
		case model.ChunkText:
			blocks = append(blocks, model.TextBlock{Text: r.text[id].String()})
		case model.ChunkThought:
			blocks = append(blocks, model.ThoughtBlock{Text: r.text[id].String()})
		case model.ChunkToolCall:
			blocks = append(blocks, model.ToolCallBlock{
				ID:        id,
				Name:      r.toolName[id],
				Arguments: []byte(r.text[id].String()),
			})
		}
	}
	return blocks
}

// Usage returns the usage totals observed across the stream.
func (r *Reassembler) Usage() model.Usage { return r.usage }

// FinishReason returns the terminal finish reason observed, or
// model.FinishUnknown if no stop chunk was seen.
func (r *Reassembler) FinishReason() model.FinishReason {
	if r.finishReason == "" {
		return model.FinishUnknown
	}
	return r.finishReason
}

// Response materializes the accumulated state into a non-streaming-shaped
// model.Response, used to persist a ModelInference row for a streamed call
// and to check spec §8 invariant 2 (concatenated stream equals non-stream
// response) in tests.
func (r *Reassembler) Response() *model.Response {
	return &model.Response{
		Content:      r.Content(),
		FinishReason: r.FinishReason(),
		Usage:        r.Usage(),
	}
}

// Drain reads every chunk from s, folding each into a fresh Reassembler,
// until the stream is exhausted or returns an error. Close is always called
// on s before returning.
func Drain(s model.Streamer) (*Reassembler, error) {
	r := NewReassembler()
	defer s.Close()
	for {
		chunk, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return r, nil
			}
			return r, err
		}
		r.Add(chunk)
	}
}
