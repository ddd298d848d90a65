package app

import (
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a participant whose outbound queue overflowed.
type Policy interface {
	OnBackPressure(sid domain.SessionID, slow core.Dropped) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SessionID, core.Dropped) BackpressureAction {
	return KickMember
}
