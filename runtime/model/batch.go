package model

import (
	"encoding/json"
	"errors"
)

// ErrBatchUnsupported is returned by StartBatchInference when a provider has
// no batch submission mechanism.
var ErrBatchUnsupported = errors.New("model: batch inference not supported by this provider")

// BatchStatus is the state of a batch inference job (§4.7).
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchRequest is one inference's worth of input submitted as part of a
// batch start call.
type BatchRequest struct {
	InferenceID string
	Request     Request
}

// BatchStartResult is returned by a provider's StartBatchInference. BatchID
// is the provider-native batch identifier; PerInference carries whatever
// provider-native metadata (e.g. a custom_id or line offset) is needed to
// join poll results back to the originating inference.
type BatchStartResult struct {
	BatchID     string
	PerInference map[string]json.RawMessage // inference id -> provider metadata
}

// BatchPollResult is returned by a provider's PollBatchInference.
type BatchPollResult struct {
	Status BatchStatus
	// Completions is populated only when Status is BatchCompleted, keyed by
	// inference id.
	Completions map[string]Response
	// FailureReason is populated only when Status is BatchFailed.
	FailureReason string
}
