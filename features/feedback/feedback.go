// Package feedback implements the feedback endpoint (spec §4.8): target
// classification, cooldown-throttled existence validation, demonstration
// content validation, and asynchronous row insertion.
package feedback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tensorzero/gateway/features/olap"
	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/ids"
	"github.com/tensorzero/gateway/runtime/model"
)

// Service validates and records feedback rows.
type Service struct {
	Config *config.Config
	Store  olap.Store

	// Cooldown is the window within which a just-minted target id's absence
	// from the store is tolerated and retried (spec §4.8 "≈5s"). PollEvery is
	// the retry interval ("every 1s").
	Cooldown  time.Duration
	PollEvery time.Duration

	Now func() time.Time
}

func New(cfg *config.Config, store olap.Store) *Service {
	return &Service{Config: cfg, Store: store, Cooldown: 5 * time.Second, PollEvery: time.Second, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Request is the normalized feedback request body (spec §4.8).
type Request struct {
	MetricName string
	Value      json.RawMessage
	TargetID   string
	Tags       map[string]string
	DryRun     bool
}

// Result is returned on success; FeedbackID is empty on a dry run.
type Result struct {
	FeedbackID string
}

// Record classifies the target, validates it exists (with the cooldown
// retry), validates a demonstration's content against the target's function
// contract, and inserts the row.
func (s *Service) Record(ctx context.Context, req Request) (*Result, error) {
	targetType, err := s.classifyTarget(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}

	feedbackID, err := ids.New()
	if err != nil {
		return nil, errors.Wrap(errors.KindInternalError, err, "failed to mint feedback id")
	}

	if req.MetricName == "comment" {
		return s.recordComment(ctx, req, targetType, feedbackID.String())
	}
	if req.MetricName == "demonstration" {
		return s.recordDemonstration(ctx, req, feedbackID.String())
	}

	mc, ok := s.Config.Metrics[req.MetricName]
	if !ok {
		return nil, errors.New(errors.KindUnknownMetric, "unknown metric %q", req.MetricName)
	}
	wantType := TargetEpisode
	if mc.Level == config.MetricLevelInference {
		wantType = TargetInference
	}
	if wantType != targetType {
		return nil, errors.New(errors.KindInvalidRequest, "metric %q is %s-level but target_id resolved to a %s", req.MetricName, mc.Level, targetType)
	}

	switch mc.Kind {
	case config.MetricBoolean:
		var v bool
		if err := json.Unmarshal(req.Value, &v); err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "metric %q requires a boolean value", req.MetricName)
		}
		row := olap.BooleanMetricFeedbackRow{ID: feedbackID.String(), MetricName: req.MetricName, TargetID: req.TargetID, TargetType: storeTargetType(targetType), Value: v, Tags: req.Tags, CreatedAt: s.now()}
		if !req.DryRun {
			go func() { _ = s.Store.WriteBooleanMetricFeedback(context.WithoutCancel(ctx), row) }()
		}
	case config.MetricFloat:
		var v float64
		if err := json.Unmarshal(req.Value, &v); err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "metric %q requires a numeric value", req.MetricName)
		}
		row := olap.FloatMetricFeedbackRow{ID: feedbackID.String(), MetricName: req.MetricName, TargetID: req.TargetID, TargetType: storeTargetType(targetType), Value: v, Tags: req.Tags, CreatedAt: s.now()}
		if !req.DryRun {
			go func() { _ = s.Store.WriteFloatMetricFeedback(context.WithoutCancel(ctx), row) }()
		}
	default:
		return nil, errors.New(errors.KindConfig, "metric %q has unrecognized kind %q", req.MetricName, mc.Kind)
	}

	if req.DryRun {
		return &Result{}, nil
	}
	return &Result{FeedbackID: feedbackID.String()}, nil
}

func (s *Service) recordComment(ctx context.Context, req Request, targetType TargetType, feedbackID string) (*Result, error) {
	var text string
	if err := json.Unmarshal(req.Value, &text); err != nil {
		return nil, errors.Wrap(errors.KindInvalidRequest, err, "comment feedback requires a string value")
	}
	row := olap.CommentFeedbackRow{ID: feedbackID, TargetID: req.TargetID, TargetType: storeTargetType(targetType), Value: text, Tags: req.Tags, CreatedAt: s.now()}
	if req.DryRun {
		return &Result{}, nil
	}
	go func() { _ = s.Store.WriteCommentFeedback(context.WithoutCancel(ctx), row) }()
	return &Result{FeedbackID: feedbackID}, nil
}

func (s *Service) recordDemonstration(ctx context.Context, req Request, feedbackID string) (*Result, error) {
	fc, err := s.functionForInference(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}
	if fc != nil {
		if err := validateDemonstration(fc, req.Value); err != nil {
			return nil, err
		}
	}
	row := olap.DemonstrationFeedbackRow{ID: feedbackID, InferenceID: req.TargetID, Value: req.Value, Tags: req.Tags, CreatedAt: s.now()}
	if req.DryRun {
		return &Result{}, nil
	}
	go func() { _ = s.Store.WriteDemonstrationFeedback(context.WithoutCancel(ctx), row) }()
	return &Result{FeedbackID: feedbackID}, nil
}

// functionForInference looks up the function a demonstration's target
// inference belongs to, so its output can be validated against that
// function's contract; nil, nil means the inference row (or its function)
// couldn't be resolved, in which case validation is skipped rather than
// failing the whole request.
func (s *Service) functionForInference(ctx context.Context, inferenceID string) (*config.FunctionConfig, error) {
	name, err := s.Store.FunctionNameForInference(ctx, inferenceID)
	if err != nil {
		return nil, errors.Wrap(errors.KindClickHouseQuery, err, "failed to resolve function for inference")
	}
	if name == "" {
		return nil, nil
	}
	return s.Config.Functions[name], nil
}

// validateDemonstration checks a demonstration's value against fc's output
// contract (spec §4.8 "chat: list of valid content blocks or string; JSON:
// schema-valid against the output schema").
func validateDemonstration(fc *config.FunctionConfig, value json.RawMessage) error {
	if fc.Kind == config.FunctionJSON {
		if fc.OutputSchema == nil {
			return nil
		}
		if err := fc.OutputSchema.ValidateBytes(value); err != nil {
			return errors.Wrap(errors.KindJSONSchemaValidation, err, "demonstration failed output schema validation")
		}
		return nil
	}

	var asString string
	if err := json.Unmarshal(value, &asString); err == nil {
		return nil
	}
	if _, err := model.DecodeContentBlocks(value); err != nil {
		return errors.Wrap(errors.KindInvalidMessage, err, "demonstration must be a string or a list of content blocks")
	}
	return nil
}

// TargetType classifies a feedback target id.
type TargetType string

const (
	TargetInference TargetType = "inference"
	TargetEpisode   TargetType = "episode"
)

func storeTargetType(t TargetType) olap.FeedbackTargetType {
	if t == TargetEpisode {
		return olap.TargetEpisode
	}
	return olap.TargetInference
}

// classifyTarget validates req's target id is a well-formed UUIDv7 and
// confirms it exists in the store, retrying through the cooldown window if
// the id was only just minted (spec §4.8, end-to-end scenario 5).
func (s *Service) classifyTarget(ctx context.Context, targetID string) (TargetType, error) {
	id, err := ids.Validate(targetID, s.now())
	if err != nil {
		return "", errors.Wrap(errors.KindInvalidRequest, err, "invalid target_id").WithPath("target_id")
	}
	mintedAt, err := ids.Timestamp(id)
	if err != nil {
		return "", errors.Wrap(errors.KindInvalidRequest, err, "invalid target_id").WithPath("target_id")
	}

	deadline := mintedAt.Add(s.Cooldown)
	for {
		if exists, err := s.Store.InferenceExists(ctx, targetID); err != nil {
			return "", errors.Wrap(errors.KindClickHouseQuery, err, "failed to check inference existence")
		} else if exists {
			return TargetInference, nil
		}
		if exists, err := s.Store.EpisodeExists(ctx, targetID); err != nil {
			return "", errors.Wrap(errors.KindClickHouseQuery, err, "failed to check episode existence")
		} else if exists {
			return TargetEpisode, nil
		}

		if s.now().After(deadline) {
			return "", errors.New(errors.KindInvalidRequest, "target_id %q does not exist", targetID).WithPath("target_id")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.PollEvery):
		}
	}
}
