// Package seqnum provides arbitrary-precision sequence-number arithmetic.
//
// Sequences arrive on the wire as decimal strings because they may exceed
// the 53 bits of precision a float64 can represent exactly. Comparisons and
// increments here go through math/big so a stream that has been running
// long enough to overflow int64 still compares and increments correctly.
package seqnum

import (
	"fmt"
	"math/big"
)

// Seq is a sequence number, always non-negative.
type Seq struct {
	v *big.Int
}

// Zero is the initial "no event applied" sequence.
var Zero = Seq{v: big.NewInt(0)}

// Parse decodes a decimal string sequence. It rejects negative values:
// spec.md §3.1 requires sequences to be strictly positive integers.
func Parse(s string) (Seq, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Seq{}, fmt.Errorf("seqnum: %q is not a decimal integer", s)
	}
	if v.Sign() < 0 {
		return Seq{}, fmt.Errorf("seqnum: %q is negative", s)
	}
	return Seq{v: v}, nil
}

// MustParse is Parse but panics on error; for constructing fixtures and
// constants in tests and demo code where the input is known-valid.
func MustParse(s string) Seq {
	seq, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return seq
}

// FromInt64 builds a Seq from a native integer, for tests and internal
// bookkeeping where the value is known to be small.
func FromInt64(n int64) Seq {
	return Seq{v: big.NewInt(n)}
}

// String renders the sequence back to its decimal wire form.
func (s Seq) String() string {
	if s.v == nil {
		return "0"
	}
	return s.v.String()
}

// IsZero reports whether this is the initial "no event applied" sequence.
func (s Seq) IsZero() bool {
	return s.v == nil || s.v.Sign() == 0
}

// Cmp returns -1, 0, or +1 as s is less than, equal to, or greater than o.
func (s Seq) Cmp(o Seq) int {
	a, b := s.bigOrZero(), o.bigOrZero()
	return a.Cmp(b)
}

// Next returns the sequence immediately following s.
func (s Seq) Next() Seq {
	return Seq{v: new(big.Int).Add(s.bigOrZero(), big.NewInt(1))}
}

// LessEqual reports whether s <= o.
func (s Seq) LessEqual(o Seq) bool { return s.Cmp(o) <= 0 }

// Less reports whether s < o.
func (s Seq) Less(o Seq) bool { return s.Cmp(o) < 0 }

// Equal reports whether s == o.
func (s Seq) Equal(o Seq) bool { return s.Cmp(o) == 0 }

// Greater reports whether s > o.
func (s Seq) Greater(o Seq) bool { return s.Cmp(o) > 0 }

func (s Seq) bigOrZero() *big.Int {
	if s.v == nil {
		return big.NewInt(0)
	}
	return s.v
}

// MarshalJSON renders the sequence as a JSON string, matching the wire
// format (decimal string, not a JSON number) per spec.md §3.1.
func (s Seq) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string containing a decimal sequence.
func (s *Seq) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("seqnum: expected JSON string, got %s", data)
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
