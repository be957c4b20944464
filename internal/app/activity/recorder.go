package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nuid"
	"github.com/staffhub/taskcore/internal/app/directory"
	"github.com/staffhub/taskcore/internal/app/tasks"
	"github.com/staffhub/taskcore/internal/contracts"
	"github.com/staffhub/taskcore/internal/platform/metrics"
	"github.com/staffhub/taskcore/internal/sharding"
)

var recordFailures = metrics.NewCounterVec(metrics.Opts{
	Name: "taskcore_activity_record_failures_total",
	Help: "Audit entries dropped because the actor, task or publish failed.",
}, []string{"reason"})

func init() {
	metrics.Default.MustRegister(recordFailures)
}

type ActorResolver interface {
	Resolve(ctx context.Context, email string) (directory.User, error)
}

type TaskReader interface {
	Get(ctx context.Context, id string) (tasks.Task, error)
}

type PublishFunc func(subject string, payload []byte) error

// Recorder turns an operation's audit request into a published
// ActivityMessage. It resolves the actor and snapshots the task's department
// at write time, then hands the entry to JetStream; the sink persists it.
//
// Record never fails the caller. A dropped audit entry is a warning and a
// metric, not an error: the primary operation already happened.
type Recorder struct {
	Directory ActorResolver
	Tasks     TaskReader
	Publish   PublishFunc
	NewID     func() string
	Now       func() time.Time
}

func NewRecorder(dir ActorResolver, taskReader TaskReader, publish PublishFunc) *Recorder {
	return &Recorder{
		Directory: dir,
		Tasks:     taskReader,
		Publish:   publish,
		NewID:     nuid.Next,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) Record(ctx context.Context, rec contracts.ActivityRecord) {
	actor, err := r.Directory.Resolve(ctx, rec.ActorEmail)
	if err != nil {
		slog.Warn("activity entry dropped: actor not resolved", "actor", rec.ActorEmail, "task", rec.TaskID, "err", err)
		recordFailures.WithLabelValues("actor").Inc()
		return
	}
	t, err := r.Tasks.Get(ctx, rec.TaskID)
	if err != nil {
		slog.Warn("activity entry dropped: task not resolved", "task", rec.TaskID, "err", err)
		recordFailures.WithLabelValues("task").Inc()
		return
	}

	msg := contracts.ActivityMessage{
		EntryID:       r.NewID(),
		TaskID:        t.ID,
		ActorUserID:   actor.ID,
		ActorEmail:    actor.Email,
		DepartmentID:  t.DepartmentID,
		Type:          rec.Type,
		Description:   rec.Description,
		PreviousValue: rec.PreviousValue,
		NewValue:      rec.NewValue,
		Metadata:      rec.Metadata,
		OccurredAt:    r.Now(),
		ShardID:       sharding.GetShardID(t.DepartmentID),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("activity entry dropped: marshal failed", "task", rec.TaskID, "err", err)
		recordFailures.WithLabelValues("marshal").Inc()
		return
	}
	if err := r.Publish(sharding.GetSubject("dept", t.DepartmentID), payload); err != nil {
		slog.Warn("activity entry dropped: publish failed", "task", rec.TaskID, "err", err)
		recordFailures.WithLabelValues("publish").Inc()
	}
}
