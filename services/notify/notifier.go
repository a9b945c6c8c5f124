package notify

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"workforce-controlplane/pkg/task"
	"workforce-controlplane/services/role"
)

// TaskNotify is the asynq task type carrying a notification intent to the
// external delivery collaborator.
const TaskNotify = "notify:role"

// Payload addresses a notification to a role. Delivery is best-effort;
// licensing state never rolls back on delivery failure.
type Payload struct {
	Role     role.Role      `json:"role"`
	TenantID string         `json:"tenant_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, to role.Role, tenantID string, data map[string]any) error
}

type asynqNotifier struct {
	enq task.Enqueuer
}

type NotifierParams struct {
	fx.In
	Enqueuer task.Enqueuer
}

func NewNotifier(p NotifierParams) Notifier {
	return &asynqNotifier{enq: p.Enqueuer}
}

func (n *asynqNotifier) Notify(ctx context.Context, to role.Role, tenantID string, data map[string]any) error {
	body, err := json.Marshal(Payload{Role: to, TenantID: tenantID, Data: data})
	if err != nil {
		return err
	}
	if _, err := n.enq.Enqueue(ctx, asynq.NewTask(TaskNotify, body)); err != nil {
		zap.L().Warn("failed to enqueue notification",
			zap.String("role", string(to)),
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

var Module = fx.Module("notify.module",
	fx.Provide(NewNotifier),
)
