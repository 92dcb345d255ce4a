package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/driveteam/scoutd/internal/entity"
	"github.com/driveteam/scoutd/internal/metrics"
	"github.com/driveteam/scoutd/internal/perm"
	"github.com/driveteam/scoutd/internal/session"
)

// actionRequest is the wire shape consumed by POST /struct.
type actionRequest struct {
	Struct string          `json:"struct"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// caller is the resolved request context: who is asking and with what access.
type caller struct {
	ssid   string
	ident  *session.Identity
	roles  []perm.Role
	bypass bool // unconditional full access; filtering skipped
}

// handleStruct handles POST /struct: decode, resolve the caller, decide
// bypass eligibility, then branch on the action kind.
func (s *Server) handleStruct(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Struct == "" || req.Action == "" {
		writeFailure(w, http.StatusBadRequest, "struct and action are required")
		return
	}

	store := entity.Lookup(req.Struct)
	if store == nil {
		writeFailure(w, http.StatusBadRequest, "unknown struct "+req.Struct)
		return
	}

	c := s.resolveCaller(r, store, req.Action)

	switch req.Action {
	case "create":
		s.doCreate(w, r, store, c, req.Data)
	case "read":
		s.doRead(w, r, store, c, req.Data)
	case "read-version-history":
		s.doVersionHistory(w, r, store, c, req.Data)
	case "update":
		s.doUpdate(w, r, store, c, req.Data)
	case "archive", "restore-archive":
		s.doArchive(w, r, store, c, req.Action, req.Data)
	case "delete":
		s.doDelete(w, r, store, c, req.Data)
	case "restore-version", "delete-version":
		s.doVersionMutation(w, r, store, c, req.Action, req.Data)
	case "set-lifetime":
		s.doSetLifetime(w, r, store, c, req.Data)
	case "add-attributes", "remove-attributes", "set-attributes",
		"add-scopes", "remove-scopes", "set-scopes":
		s.doTagMutation(w, r, store, c, req.Action, req.Data)
	default:
		writeFailure(w, http.StatusBadRequest, "unknown action "+req.Action)
	}
}

// resolveCaller reads the identity withSession stashed on the context and
// decides bypass eligibility before any action branch runs. Sample stores
// skip role resolution entirely.
func (s *Server) resolveCaller(r *http.Request, store *entity.Struct, action string) *caller {
	if store.Sample() {
		return &caller{bypass: true}
	}

	ident := session.FromContext(r.Context())
	c := &caller{ssid: session.SSID(r), ident: ident}
	if ident != nil {
		c.roles = ident.Roles
		c.bypass = ident.Admin
	}
	if !c.bypass && s.openRead[store.Name()] && readAction(action) {
		c.bypass = true
	}
	if !c.bypass && s.rules.Bypassed(store.Name(), action, nil) {
		c.bypass = true
	}
	return c
}

func readAction(action string) bool {
	return action == "read" || action == "read-version-history"
}

// view reduces a record for the caller, honoring bypass.
func (c *caller) view(structName, action string, rec *entity.Record) (map[string]any, bool) {
	if c.bypass {
		return perm.View(rec, nil, true), true
	}
	return perm.Filter(c.roles, structName, action, rec)
}

// authorizeMutation checks that the caller may run the action against the
// record, field-level for partial writes.
func (c *caller) authorizeMutation(structName, action string, rec *entity.Record, fields []string) bool {
	if c.bypass {
		return true
	}
	return perm.AllowedFields(c.roles, structName, action, rec, fields)
}

func (s *Server) doCreate(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, data json.RawMessage) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		writeFailure(w, http.StatusBadRequest, "create data must be a field object")
		return
	}

	if !c.bypass && !perm.Allowed(c.roles, store.Name(), "create") {
		writePermissionDenied(w, store.Name(), "create")
		return
	}

	rec, err := store.New(r.Context(), fields)
	if err != nil {
		s.writeActionError(w, store.Name(), "create", err)
		return
	}
	metrics.Mutations.WithLabelValues(store.Name(), "create").Inc()
	// The creator supplied every field; it sees the full record back.
	writeSuccess(w, http.StatusCreated, perm.View(rec, nil, true))
}

// readData selects the read subtype and its parameters.
type readData struct {
	Type            string `json:"type"`
	ID              string `json:"id"`
	Key             string `json:"key"`
	Value           any    `json:"value"`
	Scope           string `json:"scope"`
	IncludeArchived bool   `json:"include_archived"`
}

func (s *Server) doRead(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, data json.RawMessage) {
	var in readData
	if err := json.Unmarshal(data, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid read data")
		return
	}

	if !c.bypass && !perm.Allowed(c.roles, store.Name(), "read") {
		writePermissionDenied(w, store.Name(), "read")
		return
	}

	switch in.Type {
	case "", "all":
		s.streamRecords(w, r, store, c, store.AllStream(r.Context(), in.IncludeArchived))
	case "archived":
		s.streamRecords(w, r, store, c, store.ArchivedStream(r.Context()))
	case "property":
		s.streamRecords(w, r, store, c, store.FromPropertyStream(r.Context(), in.Key, in.Value))
	case "scope":
		s.streamRecords(w, r, store, c, store.FromScopeStream(r.Context(), in.Scope))
	case "from-id":
		rec, err := store.FromID(r.Context(), in.ID)
		if err != nil {
			s.writeActionError(w, store.Name(), "read", err)
			return
		}
		if rec == nil {
			writeFailure(w, http.StatusOK, "not found")
			return
		}
		view, ok := c.view(store.Name(), "read", rec)
		if !ok {
			writePermissionDenied(w, store.Name(), "read")
			return
		}
		writeSuccess(w, http.StatusOK, view)
	default:
		writeFailure(w, http.StatusBadRequest, "unknown read type "+in.Type)
	}
}

// streamRecords writes a streaming read as newline-delimited JSON views
// terminated by a literal "end" line. The response header is written lazily
// so synchronous stream failures can still produce a structured error.
func (s *Server) streamRecords(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, st *entity.Stream) {
	var out <-chan map[string]any
	if c.bypass {
		full := make(chan map[string]any, 16)
		go func() {
			defer close(full)
			for rec := range st.Records() {
				full <- perm.View(rec, nil, true)
			}
		}()
		out = full
	} else {
		out = perm.FilterStream(c.roles, store.Name(), "read", st)
	}

	rc := http.NewResponseController(w)
	wrote := false
	for view := range out {
		if !wrote {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		if err := json.NewEncoder(w).Encode(view); err != nil {
			return
		}
		metrics.StreamedRows.WithLabelValues(store.Name()).Inc()
		_ = rc.Flush()
	}

	if err := st.Err(); err != nil {
		if !wrote {
			s.writeActionError(w, store.Name(), "read", err)
			return
		}
		// Mid-stream failure: the missing end sentinel tells the client
		// the sequence is incomplete.
		slog.Error("streaming read aborted", "struct", store.Name(), "error", err)
		return
	}

	if !wrote {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprintln(w, "end")
	_ = rc.Flush()
}

type updateData struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (s *Server) doUpdate(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, data json.RawMessage) {
	var in updateData
	if err := json.Unmarshal(data, &in); err != nil || in.ID == "" {
		writeFailure(w, http.StatusBadRequest, "update data requires id and fields")
		return
	}

	cur, err := store.FromID(r.Context(), in.ID)
	if err != nil {
		s.writeActionError(w, store.Name(), "update", err)
		return
	}
	if cur == nil {
		writeFailure(w, http.StatusOK, "not found")
		return
	}
	if !c.authorizeMutation(store.Name(), "update", cur, fieldNames(in.Fields)) {
		writePermissionDenied(w, store.Name(), "update")
		return
	}

	rec, err := store.Update(r.Context(), in.ID, in.Fields)
	if err != nil {
		s.writeActionError(w, store.Name(), "update", err)
		return
	}
	if rec == nil {
		writeFailure(w, http.StatusOK, "not found")
		return
	}
	metrics.Mutations.WithLabelValues(store.Name(), "update").Inc()
	view, _ := c.view(store.Name(), "update", rec)
	writeSuccess(w, http.StatusOK, view)
}

type idData struct {
	ID string `json:"id"`
}

func (s *Server) doArchive(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, action string, data json.RawMessage) {
	var in idData
	if err := json.Unmarshal(data, &in); err != nil || in.ID == "" {
		writeFailure(w, http.StatusBadRequest, "id is required")
		return
	}

	cur, err := store.FromID(r.Context(), in.ID)
	if err != nil {
		s.writeActionError(w, store.Name(), action, err)
		return
	}
	if cur == nil {
		writeFailure(w, http.StatusOK, "not found")
		return
	}
	if !c.authorizeMutation(store.Name(), action, cur, nil) {
		writePermissionDenied(w, store.Name(), action)
		return
	}

	rec, err := store.SetArchive(r.Context(), in.ID, action == "archive")
	if err != nil {
		s.writeActionError(w, store.Name(), action, err)
		return
	}
	if rec == nil {
		writeFailure(w, http.StatusOK, "not found")
		return
	}
	metrics.Mutations.WithLabelValues(store.Name(), action).Inc()
	view, _ := c.view(store.Name(), action, rec)
	writeSuccess(w, http.StatusOK, view)
}

func (s *Server) doDelete(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, data json.RawMessage) {
	var in idData
	if err := json.Unmarshal(data, &in); err != nil || in.ID == "" {
		writeFailure(w, http.StatusBadRequest, "id is required")
		return
	}

	cur, err := store.FromID(r.Context(), in.ID)
	if err != nil {
		s.writeActionError(w, store.Name(), "delete", err)
		return
	}
	if cur == nil {
		writeFailure(w, http.StatusOK, "not found")
		return
	}
	if !c.authorizeMutation(store.Name(), "delete", cur, nil) {
		writePermissionDenied(w, store.Name(), "delete")
		return
	}

	if err := store.Delete(r.Context(), in.ID); err != nil {
		s.writeActionError(w, store.Name(), "delete", err)
		return
	}
	metrics.Mutations.WithLabelValues(store.Name(), "delete").Inc()
	writeJSON(w, http.StatusOK, result{Success: true})
}

func (s *Server) doVersionHistory(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, data json.RawMessage) {
	var in idData
	if err := json.Unmarshal(data, &in); err != nil || in.ID == "" {
		writeFailure(w, http.StatusBadRequest, "id is required")
		return
	}
	if !c.bypass && !perm.Allowed(c.roles, store.Name(), "read") {
		writePermissionDenied(w, store.Name(), "read")
		return
	}

	versions, err := store.Versions(r.Context(), in.ID)
	if err != nil {
		s.writeActionError(w, store.Name(), "read-version-history", err)
		return
	}

	out := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		snap, ok := c.view(store.Name(), "read", v.Snapshot)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"version": v.ID,
			"created": v.Created,
			"record":  snap,
		})
	}
	writeSuccess(w, http.StatusOK, out)
}

type versionData struct {
	Version string `json:"version"`
}

func (s *Server) doVersionMutation(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, action string, data json.RawMessage) {
	var in versionData
	if err := json.Unmarshal(data, &in); err != nil || in.Version == "" {
		writeFailure(w, http.StatusBadRequest, "version is required")
		return
	}
	if !c.bypass && !perm.Allowed(c.roles, store.Name(), action) {
		writePermissionDenied(w, store.Name(), action)
		return
	}

	switch action {
	case "restore-version":
		rec, err := store.RestoreVersion(r.Context(), in.Version)
		if err != nil {
			s.writeActionError(w, store.Name(), action, err)
			return
		}
		if rec == nil {
			writeFailure(w, http.StatusOK, "not found")
			return
		}
		metrics.Mutations.WithLabelValues(store.Name(), action).Inc()
		view, _ := c.view(store.Name(), action, rec)
		writeSuccess(w, http.StatusOK, view)
	case "delete-version":
		if err := store.DeleteVersion(r.Context(), in.Version); err != nil {
			s.writeActionError(w, store.Name(), action, err)
			return
		}
		metrics.Mutations.WithLabelValues(store.Name(), action).Inc()
		writeJSON(w, http.StatusOK, result{Success: true})
	}
}

type lifetimeData struct {
	ID       string `json:"id"`
	Lifetime int64  `json:"lifetime"`
}

func (s *Server) doSetLifetime(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, data json.RawMessage) {
	var in lifetimeData
	if err := json.Unmarshal(data, &in); err != nil || in.ID == "" {
		writeFailure(w, http.StatusBadRequest, "id is required")
		return
	}

	cur, err := store.FromID(r.Context(), in.ID)
	if err != nil {
		s.writeActionError(w, store.Name(), "set-lifetime", err)
		return
	}
	if cur == nil {
		writeFailure(w, http.StatusOK, "not found")
		return
	}
	if !c.authorizeMutation(store.Name(), "set-lifetime", cur, nil) {
		writePermissionDenied(w, store.Name(), "set-lifetime")
		return
	}

	rec, err := store.SetLifetime(r.Context(), in.ID, in.Lifetime)
	if err != nil {
		s.writeActionError(w, store.Name(), "set-lifetime", err)
		return
	}
	if rec == nil {
		writeFailure(w, http.StatusOK, "not found")
		return
	}
	metrics.Mutations.WithLabelValues(store.Name(), "set-lifetime").Inc()
	view, _ := c.view(store.Name(), "set-lifetime", rec)
	writeSuccess(w, http.StatusOK, view)
}

type tagsData struct {
	ID     string   `json:"id"`
	Values []string `json:"values"`
}

func (s *Server) doTagMutation(w http.ResponseWriter, r *http.Request, store *entity.Struct, c *caller, action string, data json.RawMessage) {
	var in tagsData
	if err := json.Unmarshal(data, &in); err != nil || in.ID == "" {
		writeFailure(w, http.StatusBadRequest, "id is required")
		return
	}

	cur, err := store.FromID(r.Context(), in.ID)
	if err != nil {
		s.writeActionError(w, store.Name(), action, err)
		return
	}
	if cur == nil {
		writeFailure(w, http.StatusOK, "not found")
		return
	}
	if !c.authorizeMutation(store.Name(), action, cur, nil) {
		writePermissionDenied(w, store.Name(), action)
		return
	}

	var rec *entity.Record
	switch action {
	case "add-attributes":
		rec, err = store.AddAttributes(r.Context(), in.ID, in.Values...)
	case "remove-attributes":
		rec, err = store.RemoveAttributes(r.Context(), in.ID, in.Values...)
	case "set-attributes":
		rec, err = store.SetAttributes(r.Context(), in.ID, in.Values...)
	case "add-scopes":
		rec, err = store.AddScopes(r.Context(), in.ID, in.Values...)
	case "remove-scopes":
		rec, err = store.RemoveScopes(r.Context(), in.ID, in.Values...)
	case "set-scopes":
		rec, err = store.SetScopes(r.Context(), in.ID, in.Values...)
	}
	if err != nil {
		s.writeActionError(w, store.Name(), action, err)
		return
	}
	if rec == nil {
		writeFailure(w, http.StatusOK, "not found")
		return
	}
	metrics.Mutations.WithLabelValues(store.Name(), action).Inc()
	view, _ := c.view(store.Name(), action, rec)
	writeSuccess(w, http.StatusOK, view)
}

func fieldNames(fields map[string]any) []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	return out
}

func writePermissionDenied(w http.ResponseWriter, structName, action string) {
	err := &entity.PermissionError{Struct: structName, Action: action}
	writeFailure(w, http.StatusForbidden, err.Error())
}

// writeActionError maps framework errors to wire responses: validation is a
// handled failure, storage trouble is a generic 5xx with the detail logged.
func (s *Server) writeActionError(w http.ResponseWriter, structName, action string, err error) {
	var ve *entity.ValidationError
	if errors.As(err, &ve) {
		writeFailure(w, http.StatusOK, ve.Error())
		return
	}
	var pe *entity.PermissionError
	if errors.As(err, &pe) {
		writeFailure(w, http.StatusForbidden, pe.Error())
		return
	}
	slog.Error("entity action failed", "struct", structName, "action", action, "error", err)
	writeFailure(w, http.StatusInternalServerError, "internal error")
}
