package app

import (
	"strings"

	"github.com/dkeye/tabletop/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a connection whose outbox is full.
type Policy interface {
	OnBackPressure(id core.ConnID) BackpressureAction
}

// DropPolicy loses the frame for the slow connection only.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.ConnID) BackpressureAction { return DropFrame }

// KickPolicy closes slow connections; the client is expected to reconnect
// and receive a fresh init snapshot.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.ConnID) BackpressureAction { return KickMember }

// PolicyByName maps the slow_policy config value; unknown names drop.
func PolicyByName(name string) Policy {
	if strings.EqualFold(name, "kick") {
		return KickPolicy{}
	}
	return DropPolicy{}
}
