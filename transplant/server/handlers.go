package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/transplant/transplant/engine"
	"github.com/byte4ever/transplant/transplant/hg"
	"github.com/byte4ever/transplant/transplant/mirror"
	"github.com/byte4ever/transplant/transplant/revset"
)

// commandDetails is the diagnostic payload of a failed adapter
// call, surfaced verbatim to the caller.
type commandDetails struct {
	Cmd        string `json:"cmd"`
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

type errorResponse struct {
	Error   string          `json:"error"`
	Details *commandDetails `json:"details,omitempty"`
}

// asErr is a shorthand for errors.As in the error mapping
// chains below.
func asErr(err error, target any) bool {
	return errors.As(err, target)
}

func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set(
		"Content-Type", "application/json; charset=utf-8",
	)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(
	w http.ResponseWriter,
	status int,
	msg string,
) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleTransplant(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "no params")

		return
	}

	out, err := s.engine.Transplant(r.Context(), req)
	if err != nil {
		s.writeTransplantError(w, err)

		return
	}

	s.metrics.transplantsTotal.
		WithLabelValues("success").Inc()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeTransplantError(
	w http.ResponseWriter,
	err error,
) {
	var verr *engine.ValidationError
	if asErr(err, &verr) {
		s.metrics.transplantsTotal.
			WithLabelValues("validation_error").Inc()
		writeError(w, http.StatusBadRequest, verr.Msg)

		return
	}

	var tooMany *revset.TooManyCommitsError
	if asErr(err, &tooMany) {
		s.metrics.transplantsTotal.
			WithLabelValues("validation_error").Inc()
		writeError(
			w, http.StatusBadRequest, tooMany.Error(),
		)

		return
	}

	if cmdErr, ok := hg.AsCommandError(err); ok {
		s.metrics.transplantsTotal.
			WithLabelValues("failure").Inc()
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "transplant failed",
			Details: &commandDetails{
				Cmd:        cmdErr.Cmd,
				ReturnCode: cmdErr.ExitCode,
				Stdout:     cmdErr.Stdout,
				Stderr:     cmdErr.Stderr,
			},
		})

		return
	}

	slog.Error("transplant failed", "error", err)
	s.metrics.transplantsTotal.
		WithLabelValues("failure").Inc()
	writeError(
		w, http.StatusInternalServerError, "internal error",
	)
}

// revsetInfo pairs an expression with its expansion.
type revsetInfo struct {
	Revset  string      `json:"revset"`
	Commits []hg.Commit `json:"commits"`
}

func (s *Server) handleRevsets(
	w http.ResponseWriter,
	r *http.Request,
) {
	name := chi.URLParam(r, "repository")

	raw := r.URL.Query().Get("revsets")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "no revsets")

		return
	}

	var exprs []string
	if err := json.Unmarshal([]byte(raw), &exprs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid revsets")

		return
	}

	// The pull mutates the working copy, so the query holds
	// the mirror's lock like any other operation.
	unlock := s.mirrors.Lock(name)
	defer unlock()

	mr, err := s.mirrors.EnsureFresh(r.Context(), name, false)
	if err != nil {
		s.writeRevsetsError(w, err)

		return
	}

	out := make([]revsetInfo, 0, len(exprs))

	for _, expr := range exprs {
		commits, err := s.resolveCached(r, mr, expr)
		if err != nil {
			s.writeRevsetsError(w, err)

			return
		}

		out = append(out, revsetInfo{
			Revset:  expr,
			Commits: commits,
		})
	}

	writeJSON(w, http.StatusOK, map[string][]revsetInfo{
		"revsets": out,
	})
}

// resolveCached serves a resolution from the short-lived cache
// when possible. Entries expire well inside the mirror TTL, so
// the cache can only ever repeat what a fresh query just said.
func (s *Server) resolveCached(
	r *http.Request,
	mr *mirror.Mirror,
	expr string,
) ([]hg.Commit, error) {
	key := mr.Name + "\x00" + expr

	if cached, ok := s.revsets.Get(key); ok {
		return cached.([]hg.Commit), nil
	}

	commits, err := s.resolver.Resolve(
		r.Context(), mr.Dir, expr,
	)
	if err != nil {
		return nil, err
	}

	if commits == nil {
		commits = []hg.Commit{}
	}

	s.revsets.SetDefault(key, commits)

	return commits, nil
}

func (s *Server) writeRevsetsError(
	w http.ResponseWriter,
	err error,
) {
	var unknown *mirror.UnknownRepositoryError
	if asErr(err, &unknown) {
		writeError(w, http.StatusBadRequest, unknown.Error())

		return
	}

	var tooMany *revset.TooManyCommitsError
	if asErr(err, &tooMany) {
		writeError(w, http.StatusBadRequest, tooMany.Error())

		return
	}

	if cmdErr, ok := hg.AsCommandError(err); ok {
		writeError(
			w,
			http.StatusBadRequest,
			strings.TrimSpace(cmdErr.Stderr),
		)

		return
	}

	slog.Error("revsets query failed", "error", err)
	writeError(
		w, http.StatusInternalServerError, "internal error",
	)
}

// configJSTemplate is expanded with the registered repository
// list and served to the UI.
const configJSTemplate = `var TRANSPLANT_CONFIG = {
    "repositories": {{repositories}}
};
`

func (s *Server) handleConfigJS(
	w http.ResponseWriter,
	_ *http.Request,
) {
	type repoInfo struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}

	regs := s.registry.All()

	repos := make([]repoInfo, 0, len(regs))
	for _, reg := range regs {
		repos = append(repos, repoInfo{
			Name: reg.Name,
			Path: reg.Remote,
		})
	}

	data, err := json.Marshal(repos)
	if err != nil {
		slog.Error("marshalling repositories", "error", err)
		writeError(
			w,
			http.StatusInternalServerError,
			"internal error",
		)

		return
	}

	tpl := fasttemplate.New(configJSTemplate, "{{", "}}")
	body := tpl.ExecuteString(map[string]any{
		"repositories": string(data),
	})

	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write([]byte(body))
}
