package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
)

// fakeGateway records every remote call. Activation responses are served
// from a queue of batches; once the queue is empty it returns no jobs.
type fakeGateway struct {
	mu sync.Mutex

	batches   [][]*domain.Job
	activErrs []error
	requests  []domain.ActivationRequest

	completeErr error
	failErr     error
	completed   map[int64]int
	failed      map[int64]int
	messages    map[int64]string

	// activated is signalled after each ActivateJobs call
	activated chan struct{}
	// activateBlock, when set, holds ActivateJobs until ctx is done
	activateBlock bool
}

func newFakeGateway(batches ...[]*domain.Job) *fakeGateway {
	return &fakeGateway{
		batches:   batches,
		completed: make(map[int64]int),
		failed:    make(map[int64]int),
		messages:  make(map[int64]string),
		activated: make(chan struct{}, 128),
	}
}

func (g *fakeGateway) ActivateJobs(ctx context.Context, req domain.ActivationRequest) ([]*domain.Job, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	block := g.activateBlock

	var err error
	if len(g.activErrs) > 0 {
		err = g.activErrs[0]
		g.activErrs = g.activErrs[1:]
	}

	var batch []*domain.Job
	if err == nil && len(g.batches) > 0 {
		batch = g.batches[0]
		g.batches = g.batches[1:]
	}
	g.mu.Unlock()

	select {
	case g.activated <- struct{}{}:
	default:
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return batch, err
}

func (g *fakeGateway) CompleteJob(_ context.Context, key int64, _ map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[key]++
	return g.completeErr
}

func (g *fakeGateway) FailJob(_ context.Context, key int64, msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed[key]++
	g.messages[key] = msg
	return g.failErr
}

func (g *fakeGateway) activationCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *fakeGateway) requestAt(i int) domain.ActivationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[i]
}

func (g *fakeGateway) completeCount(key int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completed[key]
}

func (g *fakeGateway) failCount(key int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed[key]
}

func (g *fakeGateway) failMessage(key int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.messages[key]
}

func (g *fakeGateway) totalReports() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.completed {
		n += c
	}
	for _, c := range g.failed {
		n += c
	}
	return n
}

func makeJobs(keys ...int64) []*domain.Job {
	jobs := make([]*domain.Job, 0, len(keys))
	for _, k := range keys {
		jobs = append(jobs, &domain.Job{
			Key:       k,
			Type:      "payment",
			Worker:    "test-worker",
			Retries:   3,
			Deadline:  time.Now().Add(time.Minute),
			Variables: map[string]any{"orderId": float64(k)},
		})
	}
	return jobs
}

var errBrokerDown = errors.New("broker unavailable")
