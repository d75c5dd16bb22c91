package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/transplant/transplant/engine"
	"github.com/byte4ever/transplant/transplant/hg"
	"github.com/byte4ever/transplant/transplant/mirror"
	"github.com/byte4ever/transplant/transplant/revset"
	"github.com/byte4ever/transplant/transplant/server"
)

type fakeEngine struct {
	gotReq engine.Request
	out    *engine.Outcome
	err    error
}

func (f *fakeEngine) Transplant(
	_ context.Context,
	req engine.Request,
) (*engine.Outcome, error) {
	f.gotReq = req

	return f.out, f.err
}

type fakeMirrors struct {
	err   error
	locks int
}

func (f *fakeMirrors) EnsureFresh(
	_ context.Context,
	name string,
	_ bool,
) (*mirror.Mirror, error) {
	if f.err != nil {
		return nil, f.err
	}

	return &mirror.Mirror{
		Name: name,
		Dir:  "/work/" + name,
	}, nil
}

func (f *fakeMirrors) Lock(_ string) func() {
	f.locks++

	return func() {}
}

type fakeResolver struct {
	commits map[string][]hg.Commit
	err     error
	calls   int
}

func (f *fakeResolver) Resolve(
	_ context.Context,
	_ string,
	expr string,
) ([]hg.Commit, error) {
	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return f.commits[expr], nil
}

func newTestServer(
	eng *fakeEngine,
	mirrors *fakeMirrors,
	resolver *fakeResolver,
) http.Handler {
	registry := mirror.NewRegistry([]mirror.Registration{
		{Name: "upstream", Remote: "https://hg/up"},
		{Name: "release", Remote: "https://hg/rel"},
	})

	return server.New(server.Config{
		Engine:   eng,
		Mirrors:  mirrors,
		Resolver: resolver,
		Registry: registry,
	}).Router()
}

func postTransplant(
	t *testing.T,
	handler http.Handler,
	body string,
) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(
		http.MethodPost,
		"/transplant",
		strings.NewReader(body),
	)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	return rec
}

func TestTransplant_success(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		out: &engine.Outcome{Tip: "newtip123"},
	}
	handler := newTestServer(
		eng, &fakeMirrors{}, &fakeResolver{},
	)

	rec := postTransplant(t, handler, `{
		"src": "upstream",
		"dst": "release",
		"items": [{"commit": "abc123"}]
	}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string

	require.NoError(
		t, json.Unmarshal(rec.Body.Bytes(), &got),
	)
	assert.Equal(t, "newtip123", got["tip"])

	assert.Equal(t, "upstream", eng.gotReq.Src)
	assert.Equal(t, "release", eng.gotReq.Dst)
	require.Len(t, eng.gotReq.Items, 1)
	assert.Equal(t, "abc123", eng.gotReq.Items[0].Commit)
}

func TestTransplant_malformed_body(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		&fakeEngine{}, &fakeMirrors{}, &fakeResolver{},
	)

	rec := postTransplant(t, handler, "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no params")
}

func TestTransplant_validation_error(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		err: &engine.ValidationError{Msg: "no src"},
	}
	handler := newTestServer(
		eng, &fakeMirrors{}, &fakeResolver{},
	)

	rec := postTransplant(t, handler, `{"dst": "release"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var got map[string]string

	require.NoError(
		t, json.Unmarshal(rec.Body.Bytes(), &got),
	)
	assert.Equal(t, "no src", got["error"])
}

func TestTransplant_too_many_commits(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		err: &revset.TooManyCommitsError{
			Count: 150,
			Limit: 100,
		},
	}
	handler := newTestServer(
		eng, &fakeMirrors{}, &fakeResolver{},
	)

	rec := postTransplant(t, handler, `{
		"src": "upstream",
		"dst": "release",
		"items": [{"revset": "all()"}]
	}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "150")
	assert.Contains(t, rec.Body.String(), "100")
}

func TestTransplant_command_failure(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		err: &hg.CommandError{
			Cmd:      "hg transplant --source /work/up abc",
			ExitCode: 255,
			Stdout:   "applying abc\n",
			Stderr:   "abort: fix up the working directory\n",
		},
	}
	handler := newTestServer(
		eng, &fakeMirrors{}, &fakeResolver{},
	)

	rec := postTransplant(t, handler, `{
		"src": "upstream",
		"dst": "release",
		"items": [{"commit": "abc"}]
	}`)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var got struct {
		Error   string `json:"error"`
		Details struct {
			Cmd        string `json:"cmd"`
			ReturnCode int    `json:"returncode"`
			Stdout     string `json:"stdout"`
			Stderr     string `json:"stderr"`
		} `json:"details"`
	}

	require.NoError(
		t, json.Unmarshal(rec.Body.Bytes(), &got),
	)
	assert.Equal(t, "transplant failed", got.Error)
	assert.Contains(t, got.Details.Cmd, "hg transplant")
	assert.Equal(t, 255, got.Details.ReturnCode)
	assert.Contains(t, got.Details.Stdout, "applying")
	assert.Contains(t, got.Details.Stderr, "abort")
}

func getRevsets(
	t *testing.T,
	handler http.Handler,
	repo string,
	revsets string,
) *httptest.ResponseRecorder {
	t.Helper()

	target := "/repositories/" + repo + "/revsets"
	if revsets != "" {
		target += "?revsets=" + url.QueryEscape(revsets)
	}

	req := httptest.NewRequest(
		http.MethodGet, target, nil,
	)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	return rec
}

func TestRevsets_success(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{
		commits: map[string][]hg.Commit{
			"draft::": {
				{Node: "aaa111", Desc: "first"},
				{Node: "bbb222", Desc: "second"},
			},
		},
	}
	mirrors := &fakeMirrors{}
	handler := newTestServer(&fakeEngine{}, mirrors, resolver)

	rec := getRevsets(
		t, handler, "upstream", `["draft::"]`,
	)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Revsets []struct {
			Revset  string      `json:"revset"`
			Commits []hg.Commit `json:"commits"`
		} `json:"revsets"`
	}

	require.NoError(
		t, json.Unmarshal(rec.Body.Bytes(), &got),
	)
	require.Len(t, got.Revsets, 1)
	assert.Equal(t, "draft::", got.Revsets[0].Revset)
	require.Len(t, got.Revsets[0].Commits, 2)
	assert.Equal(t, "aaa111", got.Revsets[0].Commits[0].Node)

	// The query held the mirror lock.
	assert.Equal(t, 1, mirrors.locks)
}

func TestRevsets_missing_parameter(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		&fakeEngine{}, &fakeMirrors{}, &fakeResolver{},
	)

	rec := getRevsets(t, handler, "upstream", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no revsets")
}

func TestRevsets_invalid_parameter(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		&fakeEngine{}, &fakeMirrors{}, &fakeResolver{},
	)

	rec := getRevsets(t, handler, "upstream", "not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid revsets")
}

func TestRevsets_unknown_repository(t *testing.T) {
	t.Parallel()

	mirrors := &fakeMirrors{
		err: &mirror.UnknownRepositoryError{Name: "ghost"},
	}
	handler := newTestServer(
		&fakeEngine{}, mirrors, &fakeResolver{},
	)

	rec := getRevsets(t, handler, "ghost", `["tip"]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(
		t, rec.Body.String(), "unknown repository: ghost",
	)
}

func TestRevsets_command_failure(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{
		err: &hg.CommandError{
			Cmd:      "hg log",
			ExitCode: 255,
			Stderr:   "abort: unknown revision 'nope'\n",
		},
	}
	handler := newTestServer(
		&fakeEngine{}, &fakeMirrors{}, resolver,
	)

	rec := getRevsets(t, handler, "upstream", `["nope"]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(
		t,
		rec.Body.String(),
		"unknown revision",
	)
}

func TestRevsets_cached_resolution(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{
		commits: map[string][]hg.Commit{
			"tip": {{Node: "aaa111"}},
		},
	}
	handler := newTestServer(
		&fakeEngine{}, &fakeMirrors{}, resolver,
	)

	rec := getRevsets(t, handler, "upstream", `["tip"]`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = getRevsets(t, handler, "upstream", `["tip"]`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Second query was served from the cache.
	assert.Equal(t, 1, resolver.calls)
}

func TestConfigJS(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		&fakeEngine{}, &fakeMirrors{}, &fakeResolver{},
	)

	req := httptest.NewRequest(
		http.MethodGet, "/config.js", nil,
	)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(
		t,
		"application/javascript",
		rec.Header().Get("Content-Type"),
	)
	assert.Contains(
		t, rec.Body.String(), "TRANSPLANT_CONFIG",
	)
	assert.Contains(t, rec.Body.String(), `"upstream"`)
	assert.Contains(t, rec.Body.String(), `"release"`)
}

func TestIndex(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		&fakeEngine{}, &fakeMirrors{}, &fakeResolver{},
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<html")
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		&fakeEngine{}, &fakeMirrors{}, &fakeResolver{},
	)

	req := httptest.NewRequest(
		http.MethodGet, "/healthz", nil,
	)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetrics_endpoint(t *testing.T) {
	t.Parallel()

	handler := newTestServer(
		&fakeEngine{out: &engine.Outcome{Tip: "t"}},
		&fakeMirrors{},
		&fakeResolver{},
	)

	// Generate one observed request first.
	postTransplant(t, handler, `{
		"src": "upstream",
		"dst": "release",
		"items": [{"commit": "abc"}]
	}`)

	req := httptest.NewRequest(
		http.MethodGet, "/metrics", nil,
	)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(
		t,
		rec.Body.String(),
		"transplant_http_requests_total",
	)
	assert.Contains(
		t,
		rec.Body.String(),
		"transplant_operations_total",
	)
}
