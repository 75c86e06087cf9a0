// Package strategy maps a compatibility verdict to a concatenation path.
package strategy

import "github.com/five82/splice/internal/compat"

// Strategy is a concatenation execution path.
type Strategy int

const (
	// StreamCopy remuxes inputs through the concat demuxer without decoding.
	StreamCopy Strategy = iota
	// Reencode decodes every input and encodes one continuous output.
	Reencode
)

// String returns the strategy name used in logs, metrics and events.
func (s Strategy) String() string {
	switch s {
	case StreamCopy:
		return "stream_copy"
	case Reencode:
		return "reencode"
	default:
		return "unknown"
	}
}

// Description is the progress message shown when the strategy is chosen.
func (s Strategy) Description() string {
	if s == StreamCopy {
		return "Using stream copy (fast concatenation)..."
	}
	return "Re-encoding required due to parameter mismatch..."
}

// Select returns StreamCopy for a compatible verdict and Reencode otherwise.
func Select(v compat.Verdict) Strategy {
	if v.Compatible {
		return StreamCopy
	}
	return Reencode
}
