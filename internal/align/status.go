// Package align brings a recorded signal into sample-accurate alignment with
// its reference and matches their levels so they can be scored.
package align

// Status is the outcome of an alignment attempt. Only StatusOK carries a
// usable aligned pair.
type Status int

const (
	StatusOK Status = iota
	// StatusRateMismatchUnresolved means the target could not be resampled.
	StatusRateMismatchUnresolved
	// StatusTooShort means the target is shorter than the reference by more
	// than the tolerance.
	StatusTooShort
	// StatusOffsetTooLate means the detected offset exceeds the tolerance.
	StatusOffsetTooLate
	// StatusShortTail means the trimmed target no longer covers the reference.
	StatusShortTail
	// StatusSilentReference means the reference has zero energy.
	StatusSilentReference
	// StatusSilentTarget means the target has zero energy.
	StatusSilentTarget
)

var statusNames = map[Status]string{
	StatusOK:                     "ok",
	StatusRateMismatchUnresolved: "rate_mismatch_unresolved",
	StatusTooShort:               "too_short",
	StatusOffsetTooLate:          "offset_too_late",
	StatusShortTail:              "short_tail",
	StatusSilentReference:        "silent_reference",
	StatusSilentTarget:           "silent_target",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OK reports whether the aligned pair can be scored.
func (s Status) OK() bool {
	return s == StatusOK
}
