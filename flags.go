package mms

import "strings"

// SendFlags are per-subscriber option bits passed through to the transport
// engine with every send. The bit values are part of the engine's wire
// contract.
type SendFlags uint32

// Send flag bits.
const (
	// SendFlagRequestDeliveryReport asks the carrier for a delivery report.
	SendFlagRequestDeliveryReport SendFlags = 1 << iota
	// SendFlagRequestReadReport asks the recipient for a read report.
	SendFlagRequestReadReport
)

// Has reports whether all bits in flag are set.
func (f SendFlags) Has(flag SendFlags) bool {
	return f&flag == flag
}

// With returns f with the given bits set.
func (f SendFlags) With(flag SendFlags) SendFlags {
	return f | flag
}

// Without returns f with the given bits cleared.
func (f SendFlags) Without(flag SendFlags) SendFlags {
	return f &^ flag
}

func (f SendFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	if f.Has(SendFlagRequestDeliveryReport) {
		names = append(names, "delivery-report")
	}
	if f.Has(SendFlagRequestReadReport) {
		names = append(names, "read-report")
	}
	if rest := f &^ (SendFlagRequestDeliveryReport | SendFlagRequestReadReport); rest != 0 {
		names = append(names, "unknown-bits")
	}
	return strings.Join(names, "|")
}
