package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

type stubTable struct {
	seen []model.Context
}

func (s *stubTable) GetTranslationOptions(_ context.Context, phrase []model.Wid, domains model.Context) []model.TranslationOption {
	s.seen = append(s.seen, domains)
	options := make([]model.TranslationOption, len(phrase))
	for i, w := range phrase {
		options[i] = model.TranslationOption{TargetPhrase: []model.Wid{w + 100}, Count: 1}
	}
	return options
}

func (s *stubTable) GetAllTranslationOptions(ctx context.Context, sentence []model.Wid, domains model.Context) map[string][]model.TranslationOption {
	spans := make(map[string][]model.TranslationOption)
	for i := range sentence {
		spans[model.PhraseKey(sentence[i:i+1])] = s.GetTranslationOptions(ctx, sentence[i:i+1], domains)
	}
	return spans
}

func decodeLines(t *testing.T, out *bytes.Buffer) []result {
	t.Helper()
	var results []result
	dec := json.NewDecoder(out)
	for dec.More() {
		var r result
		require.NoError(t, dec.Decode(&r))
		results = append(results, r)
	}
	return results
}

func TestQueryPrintsOptions(t *testing.T) {
	stub := &stubTable{}
	domains := model.Context{{Domain: 1, Weight: 1}}
	var out bytes.Buffer
	in := strings.NewReader("5 12\n\nnot-a-phrase\n7\n")

	require.NoError(t, query(context.Background(), stub, in, &out, queryOptions{domains: domains}))
	results := decodeLines(t, &out)
	require.Len(t, results, 2)
	assert.Equal(t, "5,12", results[0].Phrase)
	assert.Equal(t, 2, results[0].Count)
	assert.Len(t, results[0].Options, 2)
	assert.Equal(t, 1, results[1].Count)
	assert.Equal(t, []model.Context{domains, domains}, stub.seen)
}

func TestQueryQuietPrintsCountsOnly(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("5 12 9\n")
	require.NoError(t, query(context.Background(), &stubTable{}, in, &out, queryOptions{quiet: true}))
	assert.JSONEq(t, `{"phrase":"5,12,9","count":3}`, strings.TrimSpace(out.String()))

	out.Reset()
	in = strings.NewReader("5 12 9\n")
	require.NoError(t, query(context.Background(), &stubTable{}, in, &out, queryOptions{sentence: true, quiet: true}))
	assert.JSONEq(t, `{"phrase":"5,12,9","count":3}`, strings.TrimSpace(out.String()))
}

func TestQuerySentenceSpans(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("5 12\n")
	require.NoError(t, query(context.Background(), &stubTable{}, in, &out, queryOptions{sentence: true}))
	results := decodeLines(t, &out)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Count)
	assert.Contains(t, results[0].Spans, "5")
	assert.Contains(t, results[0].Spans, "12")
}
