package protocol

// OnRecv applies the RECV-side rule table to a scan result, resetting state
// on any reset trigger and reporting whether the caller should drop this
// buffer and read the next one instead of surfacing it.
//
// A C7 0B head reports drop=true here but does not reset state itself: the
// trampoline's drop loop resets counter+marker on every iteration it drops
// (internal/trampoline.Trampoline.Recv, via State.ResetCounterAndMarker),
// matching the original's per-iteration reset inside that retry loop rather
// than in this rule function.
func OnRecv(state *State, result ScanResult) (drop bool) {
	if result.HeadC70A || result.HeadB300 || result.OffC70A {
		state.Reset()
	}
	return result.HeadC70B
}

// OnSendHead inspects the first two bytes of an outgoing buffer and applies
// the SEND-side rule table. No other opcode alters state.
func OnSendHead(state *State, buf []byte) {
	switch {
	case headIs(buf, OpResetSend), headIs(buf, OpResetA):
		state.counter.Store(0)
		state.SetFoundMarker(false)
	case headIs(buf, OpMarker):
		state.SetFoundMarker(true)
	}
}
