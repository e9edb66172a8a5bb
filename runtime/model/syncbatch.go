package model

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SyncBatcher gives a Provider a StartBatchInference/PollBatchInference
// implementation when the vendor has no native batch submission API: Start
// fans the batch out over a bounded worker pool immediately (grounded on the
// channel-driven background goroutine the teacher's streaming adapter uses to
// decouple a blocking vendor call from the caller) and Poll simply reports
// the in-memory result once every worker has returned. Vendors with a true
// asynchronous batch API (one that accepts a job and returns a provider-native
// id to poll later) should implement StartBatchInference/PollBatchInference
// directly instead of embedding this type.
type SyncBatcher struct {
	concurrency int

	mu    sync.Mutex
	jobs  map[string]*syncBatchJob
}

type syncBatchJob struct {
	done    chan struct{}
	result  *BatchPollResult
}

// NewSyncBatcher constructs a SyncBatcher that runs up to concurrency
// inferences at once. concurrency <= 0 means unbounded.
func NewSyncBatcher(concurrency int) *SyncBatcher {
	return &SyncBatcher{concurrency: concurrency, jobs: make(map[string]*syncBatchJob)}
}

// Start launches infer for every request in reqs and returns immediately with
// a batch id that Poll can be called against.
func (b *SyncBatcher) Start(ctx context.Context, reqs []BatchRequest, infer func(context.Context, *Request) (*Response, error)) (*BatchStartResult, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	batchID := id.String()
	job := &syncBatchJob{done: make(chan struct{})}

	b.mu.Lock()
	b.jobs[batchID] = job
	b.mu.Unlock()

	go b.run(context.WithoutCancel(ctx), job, reqs, infer)

	return &BatchStartResult{BatchID: batchID}, nil
}

func (b *SyncBatcher) run(ctx context.Context, job *syncBatchJob, reqs []BatchRequest, infer func(context.Context, *Request) (*Response, error)) {
	defer close(job.done)

	sem := make(chan struct{}, b.poolSize(len(reqs)))
	var wg sync.WaitGroup
	var mu sync.Mutex
	completions := make(map[string]Response, len(reqs))
	var firstErr string

	for _, r := range reqs {
		r := r
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			resp, err := infer(ctx, &r.Request)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == "" {
					firstErr = err.Error()
				}
				return
			}
			completions[r.InferenceID] = *resp
		}()
	}
	wg.Wait()

	if firstErr != "" {
		job.result = &BatchPollResult{Status: BatchFailed, FailureReason: firstErr}
		return
	}
	job.result = &BatchPollResult{Status: BatchCompleted, Completions: completions}
}

func (b *SyncBatcher) poolSize(n int) int {
	if b.concurrency <= 0 {
		if n == 0 {
			return 1
		}
		return n
	}
	return b.concurrency
}

// Poll reports BatchPending until the batch started by Start has finished,
// at which point it reports the terminal result.
func (b *SyncBatcher) Poll(batchID string) (*BatchPollResult, bool) {
	b.mu.Lock()
	job, ok := b.jobs[batchID]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-job.done:
		return job.result, true
	default:
		return &BatchPollResult{Status: BatchPending}, true
	}
}
