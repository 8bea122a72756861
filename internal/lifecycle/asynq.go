package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dharani-backend/internal/metrics"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskRunLifecycle is the asynq task type for one lifecycle run.
const TaskRunLifecycle = "request:lifecycle"

type lifecyclePayload struct {
	RequestID string `json:"request_id"`
}

// NewLifecycleTask builds the queued task for requestID.
func NewLifecycleTask(requestID string) (*asynq.Task, error) {
	payload, err := json.Marshal(lifecyclePayload{RequestID: requestID})
	if err != nil {
		return nil, err
	}
	// A failed run already appended its error entry; retrying would only be
	// skipped by Run, so the task is never retried. The request id doubles as
	// the task id so a request is queued at most once.
	return asynq.NewTask(TaskRunLifecycle, payload, asynq.MaxRetry(0), asynq.TaskID(requestID)), nil
}

// JobServer runs lifecycle tasks from Redis so runs survive a process restart
// between submission and pickup.
type JobServer struct {
	server *asynq.Server
	client *asynq.Client
	runner Runner
	log    *zap.Logger
}

func NewJobServer(redisURL string, concurrency int, runner Runner, log *zap.Logger) (*JobServer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: max(1, concurrency),
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	return &JobServer{
		server: server,
		client: asynq.NewClient(redisOpt),
		runner: runner,
		log:    log,
	}, nil
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRunLifecycle, js.handleLifecycle)
	js.log.Info("🔧 [JOBS] Lifecycle job server starting")
	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}

// Dispatch enqueues requestID. JobServer satisfies Dispatcher.
func (js *JobServer) Dispatch(ctx context.Context, requestID string) error {
	task, err := NewLifecycleTask(requestID)
	if err != nil {
		return err
	}
	info, err := js.client.EnqueueContext(ctx, task)
	if alreadyQueued(err) {
		metrics.DispatchTotal.WithLabelValues("asynq", "duplicate").Inc()
		js.log.Info("⏭️  [JOBS] Lifecycle task already queued", zap.String("request_id", requestID))
		return nil
	}
	if err != nil {
		metrics.DispatchTotal.WithLabelValues("asynq", "error").Inc()
		return fmt.Errorf("enqueue lifecycle task: %w", err)
	}
	metrics.DispatchTotal.WithLabelValues("asynq", "ok").Inc()
	js.log.Debug("📥 [JOBS] Lifecycle task enqueued",
		zap.String("request_id", requestID), zap.String("task_id", info.ID))
	return nil
}

func alreadyQueued(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

func (js *JobServer) handleLifecycle(ctx context.Context, t *asynq.Task) error {
	return HandleLifecycleTask(ctx, t, js.runner)
}

// HandleLifecycleTask decodes t and runs it on runner.
func HandleLifecycleTask(ctx context.Context, t *asynq.Task, runner Runner) error {
	var p lifecyclePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode lifecycle payload: %w: %w", err, asynq.SkipRetry)
	}
	if p.RequestID == "" {
		return fmt.Errorf("lifecycle payload without request_id: %w", asynq.SkipRetry)
	}
	return runner.Run(ctx, p.RequestID)
}
