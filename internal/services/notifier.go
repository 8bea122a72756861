package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dharani-backend/internal/models"

	"go.uber.org/zap"
)

// Broadcaster delivers live events to connected clients.
type Broadcaster interface {
	BroadcastToUser(userID string, data interface{})
	BroadcastToRole(role string, data interface{})
}

// Pusher sends a push notification to device tokens.
type Pusher interface {
	SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// TokenStore looks up a user's registered device tokens.
type TokenStore interface {
	GetFCMTokens(ctx context.Context, userID string) ([]string, error)
}

// WorkerDirectory lists the workers who may pick up a job in a city.
type WorkerDirectory interface {
	ListAvailableWorkers(ctx context.Context, city string) ([]models.User, error)
}

// TimelineEvent is the live payload for one recorded timeline entry.
type TimelineEvent struct {
	Type string            `json:"type"`
	Data TimelineEventData `json:"data"`
}

type TimelineEventData struct {
	RequestID string                       `json:"request_id"`
	Status    models.RequestStatus         `json:"status"`
	Entry     models.TimelineEntryResponse `json:"entry"`
}

// Notifier fans recorded timeline entries out over WebSocket, respecting each
// entry's visibility, and sends push notifications on assignment and completion.
type Notifier struct {
	hub     Broadcaster
	pusher  Pusher
	tokens  TokenStore
	workers WorkerDirectory
	logger  *zap.Logger

	pushTimeout time.Duration
	wg          sync.WaitGroup
}

// NewNotifier builds a Notifier. pusher may be nil when push is not configured;
// without workers no job_available events are sent.
func NewNotifier(hub Broadcaster, pusher Pusher, tokens TokenStore, workers WorkerDirectory, logger *zap.Logger) *Notifier {
	return &Notifier{hub: hub, pusher: pusher, tokens: tokens, workers: workers, logger: logger, pushTimeout: 10 * time.Second}
}

func (n *Notifier) StepRecorded(ctx context.Context, req *models.ServiceRequest, entry *models.TimelineEntry) {
	event := TimelineEvent{
		Type: "timeline_entry",
		Data: TimelineEventData{
			RequestID: req.RequestID,
			Status:    req.Status,
			Entry:     entry.ToResponse(),
		},
	}

	if entry.SubmitterVisible {
		n.hub.BroadcastToUser(req.UserID, event)
	}
	if entry.WorkerVisible {
		if req.AssignedWorkerID != nil {
			n.hub.BroadcastToUser(*req.AssignedWorkerID, event)
		} else if entry.Step == models.StepMatching {
			n.announceJob(ctx, req, TimelineEvent{Type: "job_available", Data: event.Data})
		}
	}
	if entry.OversightVisible {
		n.hub.BroadcastToRole(models.RoleGovernment, event)
	}

	switch entry.Step {
	case models.StepAssigned:
		if req.AssignedWorkerID != nil {
			n.push(ctx, *req.AssignedWorkerID, "New job assigned",
				fmt.Sprintf("%s, %s", req.Description, req.Address), req, entry)
		}
	case models.StepImpactCalculated:
		n.push(ctx, req.UserID, "Your request is complete",
			"The area has been cleaned. See the environmental impact of your report.", req, entry)
	}
}

// announceJob tells the available workers in the request's city about an
// unassigned job.
func (n *Notifier) announceJob(ctx context.Context, req *models.ServiceRequest, event TimelineEvent) {
	if n.workers == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.pushTimeout)
		defer cancel()

		workers, err := n.workers.ListAvailableWorkers(wctx, req.City)
		if err != nil {
			n.logger.Warn("⚠️  [NOTIFY] Could not list workers for open job",
				zap.String("request_id", req.RequestID), zap.String("city", req.City), zap.Error(err))
			return
		}
		for _, w := range workers {
			n.hub.BroadcastToUser(w.ID, event)
		}
	}()
}

func (n *Notifier) push(ctx context.Context, userID, title, body string, req *models.ServiceRequest, entry *models.TimelineEntry) {
	if n.pusher == nil || n.tokens == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.pushTimeout)
		defer cancel()

		tokens, err := n.tokens.GetFCMTokens(pctx, userID)
		if err != nil {
			n.logger.Warn("⚠️  [NOTIFY] Could not load device tokens", zap.String("user_id", userID), zap.Error(err))
			return
		}
		if len(tokens) == 0 {
			return
		}
		err = n.pusher.SendToTokens(pctx, tokens, title, truncate(body, 100), map[string]string{
			"type":       entry.Step,
			"request_id": req.RequestID,
			"status":     string(req.Status),
		})
		if err != nil {
			n.logger.Warn("⚠️  [NOTIFY] Push failed", zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight pushes have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
