package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tensorzero/gateway/features/batch"
	"github.com/tensorzero/gateway/features/feedback"
	"github.com/tensorzero/gateway/features/inference"
	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/streaming"
)

func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var wire inferenceRequestWire
	if err := dec.Decode(&wire); err != nil {
		writeError(w, errors.Wrap(errors.KindInvalidRequest, err, "failed to decode inference request"))
		return
	}
	req, err := wire.toRequest()
	if err != nil {
		writeError(w, errors.Wrap(errors.KindInvalidMessage, err, "failed to decode input content"))
		return
	}

	if req.Stream {
		s.handleInferenceStream(w, r, req)
		return
	}

	result, err := s.orchestrator.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	output, err := model.EncodeContentBlocks(result.Output)
	if err != nil {
		output = []byte("null")
	}
	writeJSONStatus(w, http.StatusOK, inferenceResponseWire{
		InferenceID: result.InferenceID,
		EpisodeID:   result.EpisodeID,
		VariantName: result.VariantName,
		Output:      output,
		Usage:       usageWire{InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens},
	})
}

func (s *Server) handleInferenceStream(w http.ResponseWriter, r *http.Request, req inference.Request) {
	handle, err := s.orchestrator.RunStream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New(errors.KindInternalError, "response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	reassembler := streaming.NewReassembler()
	for ev := range handle.Events {
		if ev.Err != nil {
			writeSSE(w, errorResponseWire{Error: ev.Err.Error()})
			flusher.Flush()
			break
		}
		if ev.Done {
			break
		}
		reassembler.Add(ev.Chunk)
		insertIndex := reassembler.InsertIndex(ev.Chunk.ID)
		writeSSE(w, chunkToWire(ev.Chunk, insertIndex))
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var wire batchStartRequestWire
	if err := dec.Decode(&wire); err != nil {
		writeError(w, errors.Wrap(errors.KindInvalidRequest, err, "failed to decode batch_inference request"))
		return
	}

	items := make([]batch.Item, len(wire.Inputs))
	for i, in := range wire.Inputs {
		item := batch.Item{Input: in}
		if i < len(wire.EpisodeIDs) {
			item.EpisodeID = wire.EpisodeIDs[i]
		}
		if i < len(wire.Tags) {
			item.Tags = wire.Tags[i]
		}
		items[i] = item
	}

	result, err := s.batcher.Start(r.Context(), batch.StartRequest{
		FunctionName: wire.FunctionName,
		VariantName:  wire.VariantName,
		Items:        items,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, batchStartResponseWire{
		BatchID:      result.BatchID,
		InferenceIDs: result.InferenceIDs,
		EpisodeIDs:   result.EpisodeIDs,
	})
}

func (s *Server) handleBatchPoll(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var wire batchPollRequestWire
	if err := dec.Decode(&wire); err != nil {
		writeError(w, errors.Wrap(errors.KindInvalidRequest, err, "failed to decode poll request"))
		return
	}

	result, err := s.batcher.Poll(r.Context(), batch.PollRequest{BatchID: wire.BatchID, InferenceID: wire.InferenceID})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := batchPollResponseWire{BatchID: result.BatchID, Status: string(result.Status), FailureReason: result.FailureReason}
	for _, c := range result.Completed {
		output, err := model.EncodeContentBlocks(c.Output)
		if err != nil {
			output = []byte("null")
		}
		resp.Completed = append(resp.Completed, batchCompletedItemWire{
			InferenceID: c.InferenceID,
			Output:      output,
			Usage:       usageWire{InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens},
		})
	}
	writeJSONStatus(w, http.StatusOK, resp)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var wire feedbackRequestWire
	if err := dec.Decode(&wire); err != nil {
		writeError(w, errors.Wrap(errors.KindInvalidRequest, err, "failed to decode feedback request"))
		return
	}

	result, err := s.feedback.Record(r.Context(), feedback.Request{
		MetricName: wire.MetricName,
		Value:      wire.Value,
		TargetID:   wire.TargetID,
		Tags:       wire.Tags,
		DryRun:     wire.DryRun,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, feedbackResponseWire{FeedbackID: result.FeedbackID})
}

func writeJSONStatus(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSSE(w http.ResponseWriter, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeError serializes any error as {"error": "<message>"} with the status
// the taxonomy maps it to (spec §6, §7); errors not produced by runtime/errors
// fall back to 500.
func writeError(w http.ResponseWriter, err error) {
	var ge *errors.Error
	if e, ok := err.(*errors.Error); ok {
		ge = e
	} else {
		ge = errors.Wrap(errors.KindInternalError, err, "internal error")
	}
	writeJSONStatus(w, ge.HTTPStatus(), ge.Body())
}
