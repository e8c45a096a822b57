// Package demo provides the job handler run by the worker service when no
// business handler is linked in. Its behaviour is steered by job variables
// so that every outcome path can be exercised from a submitted job.
package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker"
	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/spf13/cast"
)

// Variables read by the handler
const (
	VarSleep       = "sleep"        // duration string or milliseconds
	VarFail        = "fail"         // bool
	VarFailMessage = "fail_message" // string
	VarPanic       = "panic"        // bool
)

// NewHandler returns the demo handler
func NewHandler(logger *slog.Logger) worker.Handler {
	return func(ctx context.Context, job *domain.Job) domain.Outcome {
		if raw, ok := job.Variable(VarSleep); ok {
			d, err := sleepDuration(raw)
			if err != nil {
				return domain.Fail(fmt.Sprintf("invalid %s variable: %v", VarSleep, err))
			}

			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return domain.Fail("job cancelled: " + ctx.Err().Error())
			case <-timer.C:
			}
		}

		if shouldPanic, _ := job.Bool(VarPanic); shouldPanic {
			panic(fmt.Sprintf("demo panic for job %d", job.Key))
		}

		if shouldFail, _ := job.Bool(VarFail); shouldFail {
			msg, err := job.String(VarFailMessage)
			if errors.Is(err, domain.ErrVariableNotFound) || msg == "" {
				msg = "demo failure requested"
			}
			return domain.Fail(msg)
		}

		logger.Debug("Demo handler processed job",
			slog.Int64("job_key", job.Key),
			slog.Int("variables", len(job.Variables)),
		)

		return domain.Complete(map[string]any{
			"processed_by": job.Worker,
			"processed_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// sleepDuration accepts "250ms"-style strings and plain numbers as
// milliseconds
func sleepDuration(raw any) (time.Duration, error) {
	if s, ok := raw.(string); ok {
		return time.ParseDuration(s)
	}
	ms, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("negative duration %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
