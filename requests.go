package fortress

import "github.com/wallstop/fortress/checkpoint"

// RequestKind discriminates FortressRequest payloads.
type RequestKind int

const (
	RequestSaveGameState RequestKind = iota
	RequestLoadGameState
	RequestAdvanceFrame
)

// String implements fmt.Stringer.
func (k RequestKind) String() string {
	switch k {
	case RequestSaveGameState:
		return "SaveGameState"
	case RequestLoadGameState:
		return "LoadGameState"
	case RequestAdvanceFrame:
		return "AdvanceFrame"
	default:
		return "unknown"
	}
}

// InputWithStatus pairs an input with how it was obtained, for
// AdvanceFrame requests.
type InputWithStatus[I any] struct {
	Input  I
	Status InputStatus
}

// FortressRequest is one of the three host-step contract variants. Hosts
// must fulfill the requests returned by AdvanceFrame in order; skipping
// or reordering voids the rollback invariants.
type FortressRequest[I any, S any] struct {
	Kind RequestKind

	// SaveGameState / LoadGameState
	Cell  checkpoint.Cell[S]
	Frame Frame

	// AdvanceFrame
	Inputs []InputWithStatus[I]
}
