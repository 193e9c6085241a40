package seqnum

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	s, err := Parse("18446744073709551616") // > max uint64, exercises big.Int
	require.NoError(t, err)
	require.Equal(t, "18446744073709551616", s.String())
}

func TestParseRejectsNegative(t *testing.T) {
	_, err := Parse("-1")
	require.Error(t, err)
}

func TestNextAndCmp(t *testing.T) {
	a := FromInt64(100)
	b := a.Next()
	require.True(t, b.Greater(a))
	require.Equal(t, "101", b.String())
	require.True(t, a.Less(b))
	require.True(t, a.Equal(FromInt64(100)))
}

func TestZeroIsZero(t *testing.T) {
	require.True(t, Zero.IsZero())
	require.False(t, FromInt64(1).IsZero())
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Seq Seq `json:"seq"`
	}
	in := wrapper{Seq: FromInt64(42)}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"seq":"42"}`, string(b))

	var out wrapper
	require.NoError(t, json.Unmarshal(b, &out))
	require.True(t, out.Seq.Equal(FromInt64(42)))
}
