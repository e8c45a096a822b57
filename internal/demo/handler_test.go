package demo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler() func(context.Context, *domain.Job) domain.Outcome {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandler_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		variables map[string]any
		wantKind  domain.OutcomeKind
		wantMsg   string
	}{
		{name: "complete", variables: nil, wantKind: domain.OutcomeComplete},
		{name: "fail default message", variables: map[string]any{"fail": true}, wantKind: domain.OutcomeFail, wantMsg: "demo failure requested"},
		{name: "fail custom message", variables: map[string]any{"fail": "true", "fail_message": "card declined"}, wantKind: domain.OutcomeFail, wantMsg: "card declined"},
		{name: "short sleep", variables: map[string]any{"sleep": "1ms"}, wantKind: domain.OutcomeComplete},
		{name: "sleep in millis", variables: map[string]any{"sleep": float64(1)}, wantKind: domain.OutcomeComplete},
		{name: "bad sleep", variables: map[string]any{"sleep": "soon"}, wantKind: domain.OutcomeFail, wantMsg: "invalid sleep variable"},
		{name: "negative sleep", variables: map[string]any{"sleep": -5}, wantKind: domain.OutcomeFail, wantMsg: "negative duration"},
	}

	h := newTestHandler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := h(context.Background(), &domain.Job{Key: 1, Worker: "w1", Variables: tt.variables})
			assert.Equal(t, tt.wantKind, outcome.Kind)
			if tt.wantMsg != "" {
				assert.Contains(t, outcome.ErrorMessage, tt.wantMsg)
			}
			if tt.wantKind == domain.OutcomeComplete {
				assert.Equal(t, "w1", outcome.Variables["processed_by"])
			}
		})
	}
}

func TestHandler_Panic(t *testing.T) {
	h := newTestHandler()
	assert.PanicsWithValue(t, "demo panic for job 9", func() {
		h(context.Background(), &domain.Job{Key: 9, Variables: map[string]any{"panic": true}})
	})
}

func TestHandler_SleepHonoursCancellation(t *testing.T) {
	h := newTestHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan domain.Outcome, 1)
	go func() {
		done <- h(ctx, &domain.Job{Key: 1, Variables: map[string]any{"sleep": "1h"}})
	}()
	cancel()

	select {
	case outcome := <-done:
		require.Equal(t, domain.OutcomeFail, outcome.Kind)
		assert.Contains(t, outcome.ErrorMessage, "job cancelled")
	case <-time.After(time.Second):
		t.Fatal("handler ignored cancellation")
	}
}
