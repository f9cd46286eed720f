// ABOUTME: Message order keys: seconds plus sub-second sequence
// ABOUTME: Parsing, comparison, and canonical-shape detection for remote timestamps

package workspace

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// seqDigits is the width of the sub-second sequence component in the
// canonical wire form ("1503435956.000247").
const seqDigits = 6

// Timestamp is a message order key: a Unix-seconds component and a
// sub-second sequence component. Within one conversation the remote
// service never issues the same Timestamp twice, so Compare gives a
// total order over the conversation's messages.
type Timestamp struct {
	Sec int64
	Seq int64
}

// ParseTimestamp parses the wire form "seconds.sequence". Sequence
// components shorter than six digits are scaled up so that ordering
// matches the decimal-fraction interpretation.
func ParseTimestamp(s string) (Timestamp, error) {
	sec, frac, ok := strings.Cut(s, ".")
	if !ok || sec == "" || frac == "" {
		return Timestamp{}, fmt.Errorf("timestamp %q: want seconds.sequence", s)
	}
	secN, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	if len(frac) > seqDigits {
		frac = frac[:seqDigits]
	}
	seqN, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	for i := len(frac); i < seqDigits; i++ {
		seqN *= 10
	}
	return Timestamp{Sec: secN, Seq: seqN}, nil
}

// MustParseTimestamp is ParseTimestamp for trusted literals; it panics
// on malformed input. Intended for tests and constants.
func MustParseTimestamp(s string) Timestamp {
	ts, err := ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// String renders the canonical wire form.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%0*d", t.Sec, seqDigits, t.Seq)
}

// IsZero reports whether t is the zero watermark ("from the beginning").
func (t Timestamp) IsZero() bool {
	return t.Sec == 0 && t.Seq == 0
}

// Compare returns -1, 0, or +1 ordering t against o.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Sec < o.Sec:
		return -1
	case t.Sec > o.Sec:
		return 1
	case t.Seq < o.Seq:
		return -1
	case t.Seq > o.Seq:
		return 1
	}
	return 0
}

// After reports whether t is strictly newer than o.
func (t Timestamp) After(o Timestamp) bool {
	return t.Compare(o) > 0
}

// Time converts the seconds component to a time.Time. The sequence
// component is not a sub-second clock reading and is discarded.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Sec, 0)
}

// IsCanonicalTS reports whether s already has the canonical order-key
// shape: one run of digits, a single dot, and another run of digits.
// Inputs in this shape are accepted verbatim without a lookup.
func IsCanonicalTS(s string) bool {
	sec, frac, ok := strings.Cut(s, ".")
	if !ok || sec == "" || frac == "" {
		return false
	}
	return allDigits(sec) && allDigits(frac)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
