package bedrock

import (
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
)

// streamer demultiplexes a Bedrock ConverseStream event stream into
// model.Chunk values, using the event's ContentBlockIndex as the stable
// content-block id.
type streamer struct {
	output          *bedrockruntime.ConverseStreamOutput
	nameBySanitized map[string]string

	chunks chan model.Chunk
	errCh  chan error
}

func newStreamer(output *bedrockruntime.ConverseStreamOutput, nameBySanitized map[string]string) *streamer {
	s := &streamer{output: output, nameBySanitized: nameBySanitized, chunks: make(chan model.Chunk, 16), errCh: make(chan error, 1)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)

	toolNameByIndex := map[int32]string{}
	var finish model.FinishReason = model.FinishUnknown

	stream := s.output.GetStream()
	defer stream.Close()

	for event := range stream.Events() {
		switch ev := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockStart:
			if tu, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
				name := aws.ToString(tu.Value.Name)
				if canonical, ok := s.nameBySanitized[name]; ok {
					name = canonical
				}
				idx := ev.Value.ContentBlockIndex
				if idx != nil {
					toolNameByIndex[*idx] = name
					s.chunks <- model.Chunk{
						Type:        model.ChunkToolCall,
						ID:          indexKey(*idx),
						InsertIndex: int(*idx),
						ToolName:    name,
					}
				}
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			idx := ev.Value.ContentBlockIndex
			if idx == nil {
				continue
			}
			id := indexKey(*idx)
			switch delta := ev.Value.Delta.(type) {
			case *brtypes.ContentBlockDeltaMemberText:
				if delta.Value != "" {
					s.chunks <- model.Chunk{Type: model.ChunkText, ID: id, InsertIndex: int(*idx), Text: delta.Value}
				}
			case *brtypes.ContentBlockDeltaMemberToolUse:
				if delta.Value.Input != nil {
					s.chunks <- model.Chunk{Type: model.ChunkToolCall, ID: id, InsertIndex: int(*idx), ArgsFragment: aws.ToString(delta.Value.Input)}
				}
			}
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			finish = mapStopReason(ev.Value.StopReason)
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				s.chunks <- model.Chunk{Type: model.ChunkUsage, Usage: &model.Usage{
					InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
					OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
				}}
			}
			s.chunks <- model.Chunk{Type: model.ChunkStop, FinishReason: finish}
		}
	}
	if err := stream.Err(); err != nil {
		s.errCh <- errors.Wrap(errors.KindStreamError, err, "bedrock converse stream error")
	}
}

func indexKey(idx int32) string {
	return strconv.FormatInt(int64(idx), 10)
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
	return s.output.GetStream().Close()
}
