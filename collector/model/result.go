package model

import (
	"fmt"
)

// Kind of payload a result was decoded from.
type Kind uint8

const (
	KindTiltBeacon Kind = iota
	KindIBeacon
	KindEddystone
	KindExtBeacon
	KindConnect
)

func (k Kind) String() string {
	switch k {
	case KindTiltBeacon:
		return "tilt"
	case KindIBeacon:
		return "ibeacon"
	case KindEddystone:
		return "eddystone"
	case KindExtBeacon:
		return "ext-beacon"
	case KindConnect:
		return "connect"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Result is the outcome of handling one payload during a scan cycle.
type Result struct {
	Kind
	Addr string
	// ID of the device the payload was decoded for, empty when decoding failed.
	ID string
	Error error
}

func (c Result) String() string {
	if c.Error != nil {
		return fmt.Sprintf("result:%v:error(%v)", c.Kind, c.Error)
	} else {
		return fmt.Sprintf("result:%v:success(%v)", c.Kind, c.ID)
	}
}

// Stored builds the result of a reading that was written to a registry slot.
func Stored[R interface{ ID() string }](k Kind, addr string, r R) Result {
	return Result{Kind: k, Addr: addr, ID: r.ID()}
}
