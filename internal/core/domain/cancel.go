package domain

import "sync/atomic"

// CancelGroup is a cooperative stop signal shared by the sessions of one
// supervisory round. It only ever moves from active to cancelled; a new round
// gets a new group.
type CancelGroup struct {
	cancelled atomic.Bool
}

func NewCancelGroup() *CancelGroup {
	return &CancelGroup{}
}

func (g *CancelGroup) Cancel() {
	g.cancelled.Store(true)
}

func (g *CancelGroup) Cancelled() bool {
	return g.cancelled.Load()
}
