package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhraseKeyRoundTrip(t *testing.T) {
	phrase := []Wid{5, 12, 4000000000}
	got, err := ParsePhrase(PhraseKey(phrase))
	require.NoError(t, err)
	assert.Equal(t, phrase, got)

	got, err = ParsePhrase(" 7\t8 9 ")
	require.NoError(t, err)
	assert.Equal(t, []Wid{7, 8, 9}, got)

	_, err = ParsePhrase("7,x")
	assert.Error(t, err)
}

func TestParseAlignment(t *testing.T) {
	a, err := ParseAlignment("2-1 0-0 1-2 0-0")
	require.NoError(t, err)
	assert.Equal(t, Alignment{{0, 0}, {1, 2}, {2, 1}}, a)

	a, err = ParseAlignment("")
	require.NoError(t, err)
	assert.Empty(t, a)

	for _, bad := range []string{"0", "0-x", "70000-1", "-1"} {
		_, err := ParseAlignment(bad)
		assert.Error(t, err, bad)
	}
}

func TestUpdateRecord(t *testing.T) {
	u := Update{
		ID:        UpdateID{Stream: 1, Seq: 2},
		Domain:    3,
		Source:    []Wid{1},
		Target:    []Wid{2},
		Alignment: Alignment{{0, 0}},
	}
	rec := u.Record()
	assert.Equal(t, Domain(3), rec.Domain)
	assert.Equal(t, u.Source, rec.Source)
	assert.Equal(t, u.Target, rec.Target)
}

func TestOrientationCounts(t *testing.T) {
	var o Orientations
	o.AddForward(Swap)
	o.AddForward(Swap)
	o.AddBackward(Monotonic)
	assert.Equal(t, uint32(2), o.Forward[Swap])
	assert.Equal(t, uint32(1), o.Backward[Monotonic])
	assert.Equal(t, "swap", Swap.String())
}
