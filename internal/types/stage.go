package types

// Stage is the position of an item record in the fixed
// fetch -> extract -> publish pipeline.
type Stage string

const (
	StagePending   Stage = "pending"
	StageFetched   Stage = "fetched"
	StageExtracted Stage = "extracted"
	StagePublished Stage = "published"
	StageFailed    Stage = "failed"
)

var allStages = []Stage{
	StagePending,
	StageFetched,
	StageExtracted,
	StagePublished,
	StageFailed,
}

// Stages returns every stage in pipeline order, terminal stages last.
func Stages() []Stage {
	out := make([]Stage, len(allStages))
	copy(out, allStages)
	return out
}

func (s Stage) Valid() bool {
	switch s {
	case StagePending, StageFetched, StageExtracted, StagePublished, StageFailed:
		return true
	}
	return false
}

// Terminal reports whether no further forward transition exists.
func (s Stage) Terminal() bool {
	return s == StagePublished
}

var successors = map[Stage]Stage{
	StagePending:   StageFetched,
	StageFetched:   StageExtracted,
	StageExtracted: StagePublished,
}

// NextStage returns the direct successor of s, or "" when s has none.
func NextStage(s Stage) Stage {
	return successors[s]
}

// CanTransition reports whether a record may move from one stage to
// another. Forward moves must follow the stage graph one step at a
// time; any stage may fail. The failed -> pending edge is reserved for
// the explicit retry operation, which also resets the record's error
// and bumps its attempt counter, so it is not allowed here.
func CanTransition(from, to Stage) bool {
	if to == StageFailed {
		return from.Valid()
	}
	return successors[from] == to
}
