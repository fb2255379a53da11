package engine

// LinkOutputState is a one-shot stage in the per-linked-output analysis pipeline
// (spec.md §4 "State machine"): Opened -> ObjectsParsed -> GraphBuilt ->
// ReachabilityComputed -> Attributed -> Reported. A failure at any stage leaves the
// Result at whatever state it last reached rather than advancing further; Result.Err
// and Result.Problems record what went wrong (spec.md §7's "degraded, not aborted").
type LinkOutputState int

const (
	StateOpened LinkOutputState = iota
	StateObjectsParsed
	StateGraphBuilt
	StateReachabilityComputed
	StateAttributed
	StateReported
)

func (s LinkOutputState) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateObjectsParsed:
		return "objects_parsed"
	case StateGraphBuilt:
		return "graph_built"
	case StateReachabilityComputed:
		return "reachability_computed"
	case StateAttributed:
		return "attributed"
	case StateReported:
		return "reported"
	default:
		return "unknown"
	}
}
