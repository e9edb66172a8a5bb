// Package ratelimit provides an adaptive per-provider token bucket that
// wraps a model.Provider. It is grounded on the teacher's
// features/model/middleware.AdaptiveRateLimiter: an AIMD token bucket
// (golang.org/x/time/rate) that backs off on a rate-limit error and probes
// back up on success, optionally coordinated across gateway instances.
// The teacher coordinates its shared budget through a Goa Pulse replicated
// map (goa.design/pulse/rmap); this gateway has no Pulse-hosting Goa
// service, so the cluster-shared budget is kept directly in
// github.com/redis/go-redis/v9 instead (see DESIGN.md for the full
// rationale for dropping Pulse).
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/tensorzero/gateway/runtime/model"
)

// ClusterStore is the subset of a redis client the limiter needs to
// coordinate a shared tokens-per-minute budget across instances.
type ClusterStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
}

// Limiter wraps a model.Provider with an adaptive tokens-per-minute budget.
// It is process-local unless a ClusterStore and key are supplied, in which
// case backoff/probe events are also written back to the shared store. The
// shared key is read only when a limiter is constructed (NewClustered), so a
// running instance does not pick up budget changes published by siblings.
type Limiter struct {
	next model.Provider

	limiter *rate.Limiter

	currentTPM, minTPM, maxTPM, recoveryRate float64

	store ClusterStore
	key   string
}

// New wraps next with a process-local adaptive limiter.
func New(next model.Provider, initialTPM, maxTPM float64) *Limiter {
	return newLimiter(next, initialTPM, maxTPM, nil, "")
}

// NewClustered wraps next with an adaptive limiter whose budget is shared
// across instances via store under key.
func NewClustered(ctx context.Context, next model.Provider, initialTPM, maxTPM float64, store ClusterStore, key string) *Limiter {
	if store == nil || key == "" {
		return newLimiter(next, initialTPM, maxTPM, nil, "")
	}
	shared := initialTPM
	if cur, err := store.Get(ctx, key).Result(); err == nil {
		if v, perr := strconv.ParseFloat(cur, 64); perr == nil && v > 0 {
			shared = v
		}
	} else {
		_ = store.SetNX(ctx, key, strconv.Itoa(int(initialTPM)), 0).Err()
	}
	return newLimiter(next, shared, maxTPM, store, key)
}

func newLimiter(next model.Provider, initialTPM, maxTPM float64, store ClusterStore, key string) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
		store:        store,
		key:          key,
	}
}

// Infer enforces the budget, then delegates.
func (l *Limiter) Infer(ctx context.Context, req *model.Request) (*model.Response, error) {
	if err := l.wait(ctx, req); err != nil {
		return nil, err
	}
	resp, err := l.next.Infer(ctx, req)
	l.observe(ctx, err)
	return resp, err
}

// InferStream enforces the budget, then delegates.
func (l *Limiter) InferStream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	if err := l.wait(ctx, req); err != nil {
		return nil, err
	}
	stream, err := l.next.InferStream(ctx, req)
	l.observe(ctx, err)
	return stream, err
}

// StartBatchInference and PollBatchInference pass through uninstrumented:
// batch submission is bursty by nature and already bounded by the
// underlying provider's own batch API (or model.SyncBatcher's worker pool),
// so the per-call budget this limiter enforces does not apply.
func (l *Limiter) StartBatchInference(ctx context.Context, reqs []model.BatchRequest) (*model.BatchStartResult, error) {
	return l.next.StartBatchInference(ctx, reqs)
}

func (l *Limiter) PollBatchInference(ctx context.Context, batchID string, perInference map[string]string) (*model.BatchPollResult, error) {
	return l.next.PollBatchInference(ctx, batchID, perInference)
}

func (l *Limiter) wait(ctx context.Context, req *model.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *Limiter) observe(ctx context.Context, err error) {
	if err == nil {
		l.probe(ctx)
		return
	}
	if isRateLimited(err) {
		l.backoff(ctx)
	}
}

func isRateLimited(err error) bool {
	type clientStatus interface{ HTTPStatus() int }
	var cs clientStatus
	if e, ok := err.(clientStatus); ok {
		cs = e
	}
	return cs != nil && cs.HTTPStatus() == 429
}

func (l *Limiter) backoff(ctx context.Context) {
	next := l.currentTPM * 0.5
	if next < l.minTPM {
		next = l.minTPM
	}
	l.apply(next)
	l.publish(ctx, next)
}

func (l *Limiter) probe(ctx context.Context) {
	next := l.currentTPM + l.recoveryRate
	if next > l.maxTPM {
		next = l.maxTPM
	}
	l.apply(next)
	l.publish(ctx, next)
}

func (l *Limiter) apply(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// publish writes the new budget to the shared store, where a limiter that
// NewClustered constructs afterwards starts from it. This is best-effort: a
// failed write only means this instance's adjustment stays process-local
// for now, not a request failure.
func (l *Limiter) publish(ctx context.Context, tpm float64) {
	if l.store == nil {
		return
	}
	_ = l.store.Set(ctx, l.key, strconv.Itoa(int(tpm)), time.Hour).Err()
}

// estimateTokens is a cheap heuristic over the rendered message transcript,
// the same character-count-over-three-plus-buffer estimate the teacher's
// limiter uses for its own model.Request shape.
func estimateTokens(req *model.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		for _, b := range m.Content {
			switch v := b.(type) {
			case model.TextBlock:
				charCount += len(v.Text)
			case model.ToolResultBlock:
				charCount += len(v.Result)
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
