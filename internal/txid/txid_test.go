package txid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDeterministic(t *testing.T) {
	ts := time.Now().UnixNano()
	parents := []TxId{Compute(nil, []byte("a"), ts), Compute(nil, []byte("b"), ts)}

	id1 := Compute(parents, []byte("payload"), ts)
	id2 := Compute(parents, []byte("payload"), ts)
	assert.Equal(t, id1, id2, "identical inputs must produce identical ids")
}

func TestComputeSensitiveToEachField(t *testing.T) {
	ts := time.Now().UnixNano()
	base := Compute(nil, []byte("payload"), ts)

	assert.NotEqual(t, base, Compute(nil, []byte("different"), ts), "different payload should change the id")
	assert.NotEqual(t, base, Compute(nil, []byte("payload"), ts+1), "different timestamp should change the id")

	parent := Compute(nil, []byte("parent"), ts)
	assert.NotEqual(t, base, Compute([]TxId{parent}, []byte("payload"), ts), "adding a parent should change the id")
}

func TestComputeOrderSensitive(t *testing.T) {
	ts := time.Now().UnixNano()
	p1 := Compute(nil, []byte("p1"), ts)
	p2 := Compute(nil, []byte("p2"), ts)

	forward := Compute([]TxId{p1, p2}, []byte("payload"), ts)
	reversed := Compute([]TxId{p2, p1}, []byte("payload"), ts)
	assert.NotEqual(t, forward, reversed, "parent order should be part of the hashed content")
}

func TestLessIsATotalOrder(t *testing.T) {
	a := TxId{0x01}
	b := TxId{0x02}

	require.True(t, a.Less(b), "expected 0x01... to sort before 0x02...")
	assert.False(t, b.Less(a), "exactly one direction should report Less for distinct ids")
	assert.False(t, a.Less(a), "an id must not be Less than itself")
}

func TestIsZero(t *testing.T) {
	assert.True(t, Zero.IsZero())
	nonzero := Compute(nil, []byte("x"), 1)
	assert.False(t, nonzero.IsZero())
}

func TestSortSliceAscending(t *testing.T) {
	ids := []TxId{
		Compute(nil, []byte("c"), 1),
		Compute(nil, []byte("a"), 1),
		Compute(nil, []byte("b"), 1),
	}
	SortSlice(ids)
	for i := 1; i < len(ids); i++ {
		assert.True(t, ids[i-1].Less(ids[i]), "expected ascending order, got %s then %s", ids[i-1], ids[i])
	}
}

func TestStringIsLowercaseHex(t *testing.T) {
	id := Compute(nil, []byte("x"), 1)
	s := id.String()
	require.Len(t, s, 64, "expected 64 hex chars for a 32-byte id")
	for _, c := range s {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'), "expected lowercase hex, found %q in %s", c, s)
	}
}
