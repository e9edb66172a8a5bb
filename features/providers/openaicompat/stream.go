package openaicompat

import (
	"io"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/tensorzero/gateway/runtime/model"
)

// streamer demultiplexes an OpenAI-compatible chat completion chunk stream
// into model.Chunk values, using the chat completion tool_calls[].index as
// the stable content-block id the way Anthropic's content-block index plays
// the same role in features/providers/anthropic.
type streamer struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	chunks chan model.Chunk
	errCh  chan error
}

func newStreamer(stream *ssestream.Stream[openai.ChatCompletionChunk]) *streamer {
	s := &streamer{stream: stream, chunks: make(chan model.Chunk, 16), errCh: make(chan error, 1)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)

	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta
		if delta.Content != "" {
			s.chunks <- model.Chunk{Type: model.ChunkText, ID: "0", InsertIndex: 0, Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			id := indexKey(tc.Index)
			if tc.Function.Name != "" {
				s.chunks <- model.Chunk{
					Type:        model.ChunkToolCall,
					ID:          id,
					InsertIndex: int(tc.Index) + 1,
					ToolName:    tc.Function.Name,
				}
			}
			if tc.Function.Arguments != "" {
				s.chunks <- model.Chunk{
					Type:         model.ChunkToolCall,
					ID:           id,
					InsertIndex:  int(tc.Index) + 1,
					ArgsFragment: tc.Function.Arguments,
				}
			}
		}
		if choice.FinishReason != "" {
			usage := &model.Usage{}
			if chunk.Usage.TotalTokens != 0 {
				usage.InputTokens = int(chunk.Usage.PromptTokens)
				usage.OutputTokens = int(chunk.Usage.CompletionTokens)
				s.chunks <- model.Chunk{Type: model.ChunkUsage, Usage: usage}
			}
			s.chunks <- model.Chunk{Type: model.ChunkStop, FinishReason: mapFinishReason(choice.FinishReason)}
		}
	}
	if err := s.stream.Err(); err != nil && err != io.EOF {
		s.errCh <- translateError(err)
	}
}

func indexKey(idx int64) string {
	return "tool" + strconv.FormatInt(idx, 10)
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
