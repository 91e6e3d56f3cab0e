package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

func TestParseLine(t *testing.T) {
	ev, err := parseLine("2 ||| 5 12 ||| 40 41 ||| 1-1 0-0")
	require.NoError(t, err)
	assert.Equal(t, model.Domain(2), ev.Domain)
	assert.Equal(t, []model.Wid{5, 12}, ev.Source)
	assert.Equal(t, []model.Wid{40, 41}, ev.Target)
	assert.Equal(t, model.Alignment{{Source: 0, Target: 0}, {Source: 1, Target: 1}}, ev.Alignment)

	for _, bad := range []string{
		"2 ||| 5 12 ||| 40 41",
		"x ||| 5 ||| 40 ||| 0-0",
		"1 ||| ||| 40 ||| 0-0",
		"1 ||| 5 ||| 40 ||| 0:0",
	} {
		_, err := parseLine(bad)
		assert.Error(t, err, bad)
	}
}
