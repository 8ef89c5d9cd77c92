package resources

import "fmt"

// Kind is the closed set of graphics resource kinds.
type Kind uint8

/** @brief Pre-defined resource kinds. */
const (
	/** @brief Texture, render target, vertex or index data. */
	KindSurface Kind = iota
	/** @brief Constant parameters of a kernel. */
	KindParameterSet
	/** @brief Surfaces bound to the ports of a kernel. */
	KindPortBinding
	/** @brief A compiled shader program. */
	KindKernel
)

func (k Kind) String() string {
	switch k {
	case KindSurface:
		return "SURFACE"
	case KindParameterSet:
		return "PARAMETER_SET"
	case KindPortBinding:
		return "PORT_BINDING"
	case KindKernel:
		return "KERNEL"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// State is the lifecycle state of a resource.
type State uint32

const (
	StateDisposed State = iota
	StateLoading
	StateDecompressing
	StateCopying
	StateRealized
)

func (s State) String() string {
	switch s {
	case StateDisposed:
		return "DISPOSED"
	case StateLoading:
		return "LOADING"
	case StateDecompressing:
		return "DECOMPRESSING"
	case StateCopying:
		return "COPYING"
	case StateRealized:
		return "REALIZED"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// transitions lists the legal successors of every state. Going back to
// LOADING from an in-flight state restarts the cycle with a newer ticket;
// REALIZED -> LOADING is a content refresh.
var transitions = map[State][]State{
	StateDisposed:      {StateLoading},
	StateLoading:       {StateDecompressing, StateDisposed, StateLoading},
	StateDecompressing: {StateCopying, StateDisposed, StateLoading},
	StateCopying:       {StateRealized, StateDisposed, StateLoading},
	StateRealized:      {StateDisposed, StateLoading},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
