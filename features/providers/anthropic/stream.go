package anthropic

import (
	"io"
	"strconv"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tensorzero/gateway/runtime/model"
)

// streamer demultiplexes an Anthropic SSE stream into model.Chunk values.
// Grounded on the teacher's anthropicStreamer (a channel fed by a background
// goroutine so Recv never blocks on the underlying HTTP read directly),
// generalized from that adapter's bespoke tool/thinking buffers to the
// gateway's stable content-block-id chunk protocol (spec §4.1).
type streamer struct {
	stream          *ssestream.Stream[sdk.MessageStreamEventUnion]
	nameBySanitized map[string]string

	chunks chan model.Chunk
	errCh  chan error
	done   chan struct{}
}

func newStreamer(stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameBySanitized map[string]string) *streamer {
	s := &streamer{
		stream:          stream,
		nameBySanitized: nameBySanitized,
		chunks:          make(chan model.Chunk, 16),
		errCh:           make(chan error, 1),
		done:            make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)

	toolNameByIndex := map[int64]string{}
	var finish model.FinishReason = model.FinishUnknown

	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			block := ev.ContentBlock.AsAny()
			if tu, ok := block.(sdk.ToolUseBlock); ok {
				name := tu.Name
				if canonical, ok := s.nameBySanitized[name]; ok {
					name = canonical
				}
				toolNameByIndex[ev.Index] = name
				s.chunks <- model.Chunk{
					Type:        model.ChunkToolCall,
					ID:          strconv.FormatInt(ev.Index, 10),
					InsertIndex: int(ev.Index),
					ToolName:    name,
				}
			}
		case sdk.ContentBlockDeltaEvent:
			id := strconv.FormatInt(ev.Index, 10)
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					s.chunks <- model.Chunk{Type: model.ChunkText, ID: id, InsertIndex: int(ev.Index), Text: delta.Text}
				}
			case sdk.InputJSONDelta:
				if delta.PartialJSON != "" {
					s.chunks <- model.Chunk{Type: model.ChunkToolCall, ID: id, InsertIndex: int(ev.Index), ArgsFragment: delta.PartialJSON}
				}
			case sdk.ThinkingDelta:
				if delta.Thinking != "" {
					s.chunks <- model.Chunk{Type: model.ChunkThought, ID: id, InsertIndex: int(ev.Index), Text: delta.Thinking}
				}
			}
		case sdk.MessageDeltaEvent:
			finish = mapStopReason(string(ev.Delta.StopReason))
			if ev.Usage.OutputTokens != 0 {
				s.chunks <- model.Chunk{Type: model.ChunkUsage, Usage: &model.Usage{OutputTokens: int(ev.Usage.OutputTokens)}}
			}
		case sdk.MessageStopEvent:
			s.chunks <- model.Chunk{Type: model.ChunkStop, FinishReason: finish}
		}
	}
	if err := s.stream.Err(); err != nil && err != io.EOF {
		s.errCh <- translateError(err)
	}
	close(s.done)
}

func (s *streamer) Recv() (model.Chunk, error) {
	chunk, ok := <-s.chunks
	if ok {
		return chunk, nil
	}
	select {
	case err := <-s.errCh:
		return model.Chunk{}, err
	default:
		return model.Chunk{}, io.EOF
	}
}

func (s *streamer) Close() error {
	return s.stream.Close()
}
