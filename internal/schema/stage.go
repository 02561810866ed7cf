package schema

import "fmt"

// Stage is the position of a migration in its linear life cycle.
type Stage int

const (
	StageInitial Stage = iota
	StageColumnsRenamed
	StageRelationshipsAdded
	StageBackfillComplete
	StageOldColumnsDropped
)

func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "initial"
	case StageColumnsRenamed:
		return "columns-renamed-aside"
	case StageRelationshipsAdded:
		return "relationship-columns-added"
	case StageBackfillComplete:
		return "backfill-complete"
	case StageOldColumnsDropped:
		return "old-columns-dropped"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Next returns the stage reached by applying an operation of kind k in
// stage s. Consecutive operations of the same kind stay in their stage.
func Next(s Stage, k Kind) (Stage, error) {
	var to Stage
	var from []Stage

	switch k {
	case KindRenameColumn:
		to, from = StageColumnsRenamed, []Stage{StageInitial, StageColumnsRenamed}
	case KindAddRelationship:
		to, from = StageRelationshipsAdded, []Stage{StageColumnsRenamed, StageRelationshipsAdded}
	case KindRunData:
		to, from = StageBackfillComplete, []Stage{StageRelationshipsAdded}
	case KindDropColumn:
		to, from = StageOldColumnsDropped, []Stage{StageBackfillComplete, StageOldColumnsDropped}
	default:
		return s, fmt.Errorf("%w: unknown operation kind %s", ErrInvalidOperation, k)
	}

	for _, f := range from {
		if s == f {
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s is not allowed in stage %s", ErrInvalidSequence, k, s)
}

// StageAt returns the stage reached once the first step operations ran.
// It assumes m is valid.
func (m Migration) StageAt(step int) Stage {
	s := StageInitial
	for _, op := range m.Operations[:min(step, len(m.Operations))] {
		s, _ = Next(s, op.Kind())
	}
	return s
}

// Validate checks every operation and replays the migration through the
// stage machine. Beyond ordering it checks that the data step only relies on
// columns renamed aside or added earlier, and that only renamed-aside
// columns get dropped.
func (m Migration) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: migration id is required", ErrInvalidOperation)
	}
	if len(m.Operations) == 0 {
		return fmt.Errorf("%w: migration %s has no operations", ErrInvalidOperation, m.ID)
	}

	aside := make(map[Column]bool)
	added := make(map[Column]bool)
	stage := StageInitial

	for i, op := range m.Operations {
		if err := validateOperation(op); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}

		next, err := Next(stage, op.Kind())
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		stage = next

		switch o := op.(type) {
		case RenameColumn:
			aside[Column{Table: o.Table, Name: o.To}] = true
		case AddRelationship:
			added[Column{Table: o.Table, Name: o.Column}] = true
		case RunData:
			for _, c := range o.Requires {
				if !aside[c] && !added[c] {
					return fmt.Errorf("step %d: %w: %s requires %s before it is created", i+1, ErrInvalidSequence, o.Name, c)
				}
			}
		case DropColumn:
			if !aside[Column{Table: o.Table, Name: o.Column}] {
				return fmt.Errorf("step %d: %w: %s.%s was never renamed aside", i+1, ErrInvalidSequence, o.Table, o.Column)
			}
		}
	}

	if stage != StageOldColumnsDropped {
		return fmt.Errorf("%w: migration %s ends in stage %s", ErrInvalidSequence, m.ID, stage)
	}

	return nil
}

func validateOperation(op Operation) error {
	switch o := op.(type) {
	case RenameColumn:
		if o.Table == "" || o.From == "" || o.To == "" || o.From == o.To {
			return fmt.Errorf("%w: %s", ErrInvalidOperation, o.Describe())
		}
	case AddRelationship:
		if o.Table == "" || o.Column == "" || o.Type == "" || o.References == "" || o.ReferencesColumn == "" {
			return fmt.Errorf("%w: %s", ErrInvalidOperation, o.Describe())
		}
		if o.OnDelete == Cascade {
			return fmt.Errorf("%w: %s: deleting the referenced row must not delete %s", ErrInvalidOperation, o.Describe(), o.Table)
		}
		if o.OnDelete == SetDefault && !o.Nullable {
			return fmt.Errorf("%w: %s: SET DEFAULT needs a nullable column", ErrInvalidOperation, o.Describe())
		}
	case DropColumn:
		if o.Table == "" || o.Column == "" {
			return fmt.Errorf("%w: %s", ErrInvalidOperation, o.Describe())
		}
	case RunData:
		if o.Name == "" || o.Fn == nil {
			return fmt.Errorf("%w: data step needs a name and a function", ErrInvalidOperation)
		}
	case nil:
		return fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}
	return nil
}
