package stores

import (
	"context"
	"errors"
	"time"

	"github.com/mailsync/mailsync/pkg/engine"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded apply run.
type Run struct {
	ID          string           `db:"id" json:"id"`
	Document    string           `db:"document" json:"document"`
	Target      string           `db:"target" json:"target"`
	Status      engine.RunStatus `db:"status" json:"status"`
	DryRun      bool             `db:"dry_run" json:"dryRun"`
	Applied     int              `db:"applied" json:"applied"`
	Failed      int              `db:"failed" json:"failed"`
	Skipped     int              `db:"skipped" json:"skipped"`
	StartedAt   time.Time        `db:"started_at" json:"startedAt"`
	CompletedAt time.Time        `db:"completed_at" json:"completedAt"`

	// Results is only filled by GetRun.
	Results []ChangeRecord `db:"-" json:"results,omitempty"`
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// ChangeRecord is the recorded outcome of one change of a run.
type ChangeRecord struct {
	RunID      string              `db:"run_id" json:"-"`
	Seq        int                 `db:"seq" json:"seq"`
	Resource   engine.ResourceKind `db:"resource" json:"resource"`
	Key        string              `db:"key" json:"key"`
	ChangeType engine.ChangeType   `db:"change_type" json:"changeType"`
	Outcome    engine.Outcome      `db:"outcome" json:"outcome"`
	Attempts   int                 `db:"attempts" json:"attempts"`
	Error      string              `db:"error" json:"error,omitempty"`
	ErrorCode  string              `db:"error_code" json:"errorCode,omitempty"`
	DurationMS int64               `db:"duration_ms" json:"durationMs"`
}

// RunMeta describes where a run came from.
type RunMeta struct {
	// Document is the path of the desired-state document.
	Document string

	// Target is the remote the run was applied to, usually its host.
	Target string
}

// Journal records apply runs and lists them back.
type Journal interface {
	RecordRun(ctx context.Context, report *engine.ApplyReport, meta RunMeta) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	Close() error
}
