package schema

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/koyif/sessionlink/internal/logger"
)

// Executor applies structural operations to the store.
type Executor interface {
	// Apply executes a rename, add or drop operation.
	Apply(ctx context.Context, op Operation) error

	// ColumnExists reports whether table has column.
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// Store records how far each migration got.
type Store interface {
	// Progress returns the number of steps applied and whether the
	// migration completed. Unknown migrations report (0, false, nil).
	Progress(ctx context.Context, id string) (step int, completed bool, err error)

	// Record stores the number of applied steps.
	Record(ctx context.Context, id string, step int, completed bool) error
}

// Locker serializes runners working on the same migration.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Transactor runs fn inside a transaction carried by ctx.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options configures a Runner.
type Options struct {
	// Atomic applies the whole migration in a single transaction. When false
	// every structural step commits on its own and progress is recorded after
	// each step, so an interrupted run resumes where it stopped.
	Atomic bool
}

// Status describes where a migration stands.
type Status struct {
	ID        string
	Step      int
	Steps     int
	Stage     Stage
	Completed bool
}

// Runner drives migrations through their stages.
type Runner struct {
	exec   Executor
	store  Store
	locker Locker
	tx     Transactor
	logger *zap.Logger
	opts   Options
}

func NewRunner(exec Executor, store Store, locker Locker, tx Transactor, log *zap.Logger, opts Options) *Runner {
	if log == nil {
		log = zap.L()
	}
	return &Runner{
		exec:   exec,
		store:  store,
		locker: locker,
		tx:     tx,
		logger: log,
		opts:   opts,
	}
}

// Status reports the recorded progress of m.
func (r *Runner) Status(ctx context.Context, m Migration) (Status, error) {
	step, completed, err := r.store.Progress(ctx, m.ID)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read migration progress: %w", err)
	}
	if completed {
		step = len(m.Operations)
	}

	return Status{
		ID:        m.ID,
		Step:      step,
		Steps:     len(m.Operations),
		Stage:     m.StageAt(step),
		Completed: completed,
	}, nil
}

// Apply runs the steps of m that have not been applied yet.
// Any failing step aborts the migration with a *StepError.
func (r *Runner) Apply(ctx context.Context, m Migration) error {
	if err := m.Validate(); err != nil {
		return err
	}

	ctx = logger.WithMigration(ctx, m.ID)
	log := logger.FromContext(ctx, r.logger)

	release, err := r.locker.Acquire(ctx, "migration:"+m.ID)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	step, completed, err := r.store.Progress(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("failed to read migration progress: %w", err)
	}
	if completed {
		log.Info("Migration already applied")
		return nil
	}
	if step > len(m.Operations) {
		return fmt.Errorf("migration %s recorded step %d but has %d steps", m.ID, step, len(m.Operations))
	}

	log.Info("Applying migration",
		zap.String("description", m.Description),
		zap.Int("from_step", step),
		zap.String("stage", m.StageAt(step).String()),
		zap.Bool("atomic", r.opts.Atomic))

	if r.opts.Atomic {
		err = r.tx.WithTransaction(ctx, func(ctx context.Context) error {
			for i := step; i < len(m.Operations); i++ {
				if err := r.runStep(ctx, m, i); err != nil {
					return err
				}
			}
			return r.store.Record(ctx, m.ID, len(m.Operations), true)
		})
	} else {
		err = r.applyStepwise(ctx, m, step)
	}
	if err != nil {
		return err
	}

	log.Info("Migration applied",
		zap.String("stage", StageOldColumnsDropped.String()))

	return nil
}

func (r *Runner) applyStepwise(ctx context.Context, m Migration, from int) error {
	for i := from; i < len(m.Operations); i++ {
		// Data steps manage their own row-level boundaries.
		if m.Operations[i].Kind() == KindRunData {
			if err := r.runStep(ctx, m, i); err != nil {
				return err
			}
			if err := r.store.Record(ctx, m.ID, i+1, false); err != nil {
				return fmt.Errorf("failed to record migration progress: %w", err)
			}
			continue
		}

		err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
			if err := r.runStep(ctx, m, i); err != nil {
				return err
			}
			return r.store.Record(ctx, m.ID, i+1, false)
		})
		if err != nil {
			return err
		}
	}

	return r.store.Record(ctx, m.ID, len(m.Operations), true)
}

func (r *Runner) runStep(ctx context.Context, m Migration, i int) error {
	op := m.Operations[i]
	fail := func(err error) error {
		return &StepError{Migration: m.ID, Step: i + 1, Op: op, Err: err}
	}

	logger.FromContext(ctx, r.logger).Info("Applying migration step",
		zap.Int("step", i+1),
		zap.Int("steps", len(m.Operations)),
		zap.String("operation", op.Describe()))

	data, ok := op.(RunData)
	if !ok {
		if err := r.exec.Apply(ctx, op); err != nil {
			return fail(err)
		}
		return nil
	}

	for _, c := range data.Requires {
		exists, err := r.exec.ColumnExists(ctx, c.Table, c.Name)
		if err != nil {
			return fail(err)
		}
		if !exists {
			return fail(fmt.Errorf("%w: column %s does not exist", ErrPrecondition, c))
		}
	}

	if err := data.Fn(ctx); err != nil {
		return fail(err)
	}
	return nil
}
