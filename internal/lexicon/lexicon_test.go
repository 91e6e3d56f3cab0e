package lexicon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

const lexModel = `# src tgt p(t|s) p(s|t)
5 40 0.5 0.25
12 41 0.8 0.6

0 42 0.03 0
7 0 0 0.02
`

func TestLoadText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lex.txt")
	require.NoError(t, os.WriteFile(path, []byte(lexModel), 0o644))

	tbl, err := Load(path, 1e-4)
	require.NoError(t, err)
	assert.Equal(t, 0.5, tbl.ForwardProbability(5, 40))
	assert.Equal(t, 0.25, tbl.BackwardProbability(5, 40))
	assert.Equal(t, 0.8, tbl.ForwardProbability(12, 41))
	assert.Equal(t, 1e-4, tbl.ForwardProbability(5, 41))
	assert.Equal(t, 0.03, tbl.TargetNullProbability(42))
	assert.Equal(t, 0.02, tbl.SourceNullProbability(7))
	assert.Equal(t, 1e-4, tbl.SourceNullProbability(5))
}

func TestLoadCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lex.txt.zst")
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	data := enc.EncodeAll([]byte(lexModel), nil)
	require.NoError(t, enc.Close())
	require.NoError(t, os.WriteFile(path, data, 0o644))

	tbl, err := Load(path, 1e-4)
	require.NoError(t, err)
	assert.Equal(t, 0.6, tbl.BackwardProbability(12, 41))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"), 1e-4)
	assert.ErrorIs(t, err, apperrors.ErrModelNotFound)

	path := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte("5 40 0.5\n"), 0o644))
	_, err = Load(path, 1e-4)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
