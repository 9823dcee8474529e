package sirix

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndirectPageRefAtAndSetRefAt(t *testing.T) {
	page := NewIndirectPage(8)
	require.Equal(t, 8, page.Fanout())
	require.True(t, page.Writable())

	ref, err := page.RefAt(3)
	require.NoError(t, err)
	require.True(t, ref.IsNull())

	replacement := NewPageReference()
	replacement.SetPageKey(42)
	require.NoError(t, page.SetRefAt(3, replacement))

	got, err := page.RefAt(3)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.PageKey())
}

func TestIndirectPageRefAtOutOfRange(t *testing.T) {
	page := NewIndirectPage(4)
	_, err := page.RefAt(4)
	require.ErrorIs(t, err, ErrUnsupportedKey)
	_, err = page.RefAt(-1)
	require.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestIndirectPageSetRefAtOnFrozenPageFails(t *testing.T) {
	page := NewIndirectPage(4)
	page.Freeze()
	require.False(t, page.Writable())
	err := page.SetRefAt(0, NewPageReference())
	require.ErrorIs(t, err, ErrIllegalState)
}

func TestIndirectPageCloneIsIndependentlyWritable(t *testing.T) {
	page := NewIndirectPage(4)
	page.Freeze()
	clone := page.Clone()
	require.True(t, clone.Writable())

	ref := NewPageReference()
	ref.SetPageKey(7)
	require.NoError(t, clone.SetRefAt(0, ref))

	original, err := page.RefAt(0)
	require.NoError(t, err)
	require.True(t, original.IsNull())
}

func TestIndirectPageSerializeRoundTrip(t *testing.T) {
	page := NewIndirectPage(4)
	r1 := NewPageReference()
	r1.SetPageKey(100)
	require.NoError(t, page.SetRefAt(1, r1))

	buf := page.Serialize(nil)
	got, n, err := DeserializeIndirectPage(buf, 4)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, 4, got.Fanout())

	ref0, err := got.RefAt(0)
	require.NoError(t, err)
	require.True(t, ref0.IsNull())

	ref1, err := got.RefAt(1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ref1.PageKey())
	require.False(t, got.Writable())
}

func TestDeserializeIndirectPageTruncated(t *testing.T) {
	_, _, err := DeserializeIndirectPage(make([]byte, 10), 4)
	require.ErrorIs(t, err, ErrCorruptPage)
}
