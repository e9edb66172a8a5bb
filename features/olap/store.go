// Package olap defines the gateway's row/query sink contract (spec §6): the
// logical OLAP tables the orchestrator, batch, and feedback components
// write to and read from. The spec treats the physical store (ClickHouse)
// as an opaque external collaborator; this package's Store interface is
// that boundary, and features/olap provides a concrete implementation
// (mongo.go) grounded on the teacher's registry/store/mongo package.
package olap

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tensorzero/gateway/features/dicl"
	"github.com/tensorzero/gateway/runtime/model"
)

// ChatInferenceRow is one row of the ChatInference table (spec §6).
type ChatInferenceRow struct {
	InferenceID  string
	EpisodeID    string
	FunctionName string
	VariantName  string
	Input        json.RawMessage
	Output       json.RawMessage // model.Message content blocks, JSON-encoded
	Usage        model.Usage
	Tags         map[string]string
	ToolParams   json.RawMessage
	ProcessingMS int64
	CreatedAt    time.Time
}

// JSONInferenceRow is one row of the JsonInference table (spec §6).
type JSONInferenceRow struct {
	InferenceID  string
	EpisodeID    string
	FunctionName string
	VariantName  string
	Input        json.RawMessage
	Output       json.RawMessage
	Parsed       bool
	Usage        model.Usage
	Tags         map[string]string
	ProcessingMS int64
	CreatedAt    time.Time
}

// ModelInferenceRow is one row per recorded provider call (spec §6). An
// inference may have several (one per fallback attempt). The embedding call
// a DICL variant issues is not recorded as a row.
type ModelInferenceRow struct {
	ID           string
	InferenceID  string
	ModelName    string
	ProviderName string
	RawRequest   json.RawMessage
	RawResponse  json.RawMessage
	Usage        model.Usage
	FinishReason model.FinishReason
	CreatedAt    time.Time
}

// BatchModelInferenceRow is one row per inference within a started batch
// (spec §6, §4.7 "Start").
type BatchModelInferenceRow struct {
	BatchID          string
	InferenceID      string
	EpisodeID        string
	FunctionName     string
	VariantName      string
	ModelName        string
	ProviderName     string
	Input            json.RawMessage
	ProviderMetadata json.RawMessage
	CreatedAt        time.Time
}

// BatchRequestRow is one append-only status-transition row for a batch
// (spec §6: "latest-by-timestamp is authoritative").
type BatchRequestRow struct {
	BatchID       string
	Status        model.BatchStatus
	ModelName     string
	ProviderName  string
	FailureReason string
	CreatedAt     time.Time
}

// FeedbackTargetType classifies what kind of id a feedback row targets.
type FeedbackTargetType string

const (
	TargetInference FeedbackTargetType = "inference"
	TargetEpisode   FeedbackTargetType = "episode"
)

// BooleanMetricFeedbackRow is one row of the BooleanMetricFeedback table.
type BooleanMetricFeedbackRow struct {
	ID         string
	MetricName string
	TargetID   string
	TargetType FeedbackTargetType
	Value      bool
	Tags       map[string]string
	CreatedAt  time.Time
}

// FloatMetricFeedbackRow is one row of the FloatMetricFeedback table.
type FloatMetricFeedbackRow struct {
	ID         string
	MetricName string
	TargetID   string
	TargetType FeedbackTargetType
	Value      float64
	Tags       map[string]string
	CreatedAt  time.Time
}

// CommentFeedbackRow is one row of the CommentFeedback table.
type CommentFeedbackRow struct {
	ID         string
	TargetID   string
	TargetType FeedbackTargetType
	Value      string
	Tags       map[string]string
	CreatedAt  time.Time
}

// DemonstrationFeedbackRow is one row of the DemonstrationFeedback table.
// It has no TargetType field: a demonstration always targets a single
// inference (InferenceID) and replaces that inference's output.
type DemonstrationFeedbackRow struct {
	ID          string
	InferenceID string
	Value       json.RawMessage
	Tags        map[string]string
	CreatedAt   time.Time
}

// Store is the gateway's full persistence and query contract against the
// OLAP sink (spec §6). Writes insert a row, or replace the row with the same
// id; there is no delete operation in this boundary.
type Store interface {
	WriteChatInference(ctx context.Context, row ChatInferenceRow) error
	WriteJSONInference(ctx context.Context, row JSONInferenceRow) error
	WriteModelInference(ctx context.Context, row ModelInferenceRow) error

	WriteBatchModelInference(ctx context.Context, row BatchModelInferenceRow) error
	WriteBatchRequestStatus(ctx context.Context, row BatchRequestRow) error
	LatestBatchRequest(ctx context.Context, batchID string) (*BatchRequestRow, error)
	BatchModelInferencesForBatch(ctx context.Context, batchID string) ([]BatchModelInferenceRow, error)
	BatchIDForInference(ctx context.Context, inferenceID string) (string, error)

	WriteBooleanMetricFeedback(ctx context.Context, row BooleanMetricFeedbackRow) error
	WriteFloatMetricFeedback(ctx context.Context, row FloatMetricFeedbackRow) error
	WriteCommentFeedback(ctx context.Context, row CommentFeedbackRow) error
	WriteDemonstrationFeedback(ctx context.Context, row DemonstrationFeedbackRow) error

	// InferenceExists and EpisodeExists back the feedback cooldown check
	// (spec §4.8): both return (false, nil) rather than an error when the id
	// is simply not present yet.
	InferenceExists(ctx context.Context, inferenceID string) (bool, error)
	EpisodeExists(ctx context.Context, episodeID string) (bool, error)

	// FunctionNameForInference backs demonstration validation (spec §4.8):
	// it returns "" rather than an error when the inference row doesn't
	// exist yet or predates this lookup.
	FunctionNameForInference(ctx context.Context, inferenceID string) (string, error)

	// ExamplesForFunction backs the DICL variant's retrieval step (spec
	// §4.5); Store satisfies dicl.Retriever directly.
	ExamplesForFunction(ctx context.Context, functionName, variantName string) ([]dicl.Example, error)
	WriteDICLExample(ctx context.Context, functionName, variantName, input, output string, embedding []float64) error
}

var _ dicl.Retriever = Store(nil)
