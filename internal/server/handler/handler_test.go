package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/phrasetable"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

func setup(t *testing.T) (*phrasetable.PhraseTable, http.Handler) {
	t.Helper()
	cfg := config.DefaultPhraseTable(filepath.Join(t.TempDir(), "model"))
	cfg.PrefixLength = 2
	cfg.MergeInterval = 0
	pt, err := phrasetable.New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pt.Close() })

	mux := http.NewServeMux()
	New(pt, nil).Register(mux)
	return pt, mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const updates = `{"updates":[
	{"stream":1,"seq":1,"domain":1,"source":[5,12],"target":[40,41],"alignment":[{"s":0,"t":0},{"s":1,"t":1}]},
	{"stream":1,"seq":2,"domain":2,"source":[5,12],"target":[50,51],"alignment":[{"s":0,"t":0},{"s":1,"t":1}]}
]}`

func TestUpdateThenLookup(t *testing.T) {
	pt, h := setup(t)

	rec := do(t, h, http.MethodPost, "/api/v1/updates", updates)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":2}`, rec.Body.String())
	require.NoError(t, pt.Flush(context.Background()))

	rec = do(t, h, http.MethodGet, "/api/v1/options?phrase=5,12", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp OptionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []model.Wid{5, 12}, resp.Phrase)
	assert.Len(t, resp.Options, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/options?phrase=5,12&context=1:1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Options, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/updates/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"streams":{"1":2}}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/options/all", `{"sentence":[5,12,7]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var all AllOptionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Contains(t, all.Options, "5,12")
	assert.NotContains(t, all.Options, "7")
}

func TestUnknownPhraseIsEmpty(t *testing.T) {
	_, h := setup(t)
	rec := do(t, h, http.MethodGet, "/api/v1/options?phrase=99", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"options":[]`)
}

func TestBadRequests(t *testing.T) {
	_, h := setup(t)
	cases := []struct {
		method, target, body string
	}{
		{http.MethodGet, "/api/v1/options", ""},
		{http.MethodGet, "/api/v1/options?phrase=a,b", ""},
		{http.MethodGet, "/api/v1/options?phrase=5&context=1", ""},
		{http.MethodPost, "/api/v1/options/all", `{"sentence":[]}`},
		{http.MethodPost, "/api/v1/options/all", `{"words":[1]}`},
		{http.MethodPost, "/api/v1/updates", `{"updates":[{"stream":1,"seq":1,"source":[],"target":[1]}]}`},
		{http.MethodPost, "/api/v1/updates", `{"updates":[{"stream":1,"seq":1,"source":[1],"target":[1],"alignment":[{"s":3,"t":0}]}]}`},
	}
	for _, tc := range cases {
		rec := do(t, h, tc.method, tc.target, tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %s %s", tc.method, tc.target, tc.body)
	}
}

func TestParseContext(t *testing.T) {
	ctx, err := ParseContext("")
	require.NoError(t, err)
	assert.Nil(t, ctx)

	ctx, err = ParseContext("1:0.5, 7:1")
	require.NoError(t, err)
	assert.Equal(t, model.Context{{Domain: 1, Weight: 0.5}, {Domain: 7, Weight: 1}}, ctx)

	_, err = ParseContext("x:1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestStatsAndCacheStats(t *testing.T) {
	_, h := setup(t)
	rec := do(t, h, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"segments":0`)

	rec = do(t, h, http.MethodGet, "/api/v1/cache/stats", "")
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
}

func TestOversizedBodyIsRejected(t *testing.T) {
	_, h := setup(t)
	body := `{"sentence":[` + strings.Repeat("1,", maxBodyBytes/2) + `1]}`
	rec := do(t, h, http.MethodPost, "/api/v1/options/all", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
