// Package api serves the read-only HTTP view of protocol state and a
// websocket event stream. Mutations go through gRPC, where the signer is
// asserted.
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/pactwatch/internal/engine"
	"github.com/ppiankov/pactwatch/internal/events"
	"github.com/ppiankov/pactwatch/internal/model"
)

// API holds the handlers' collaborators.
type API struct {
	eng *engine.Engine
	bus *events.Bus
}

// New returns the HTTP handler. bus may be nil, which disables /events.
func New(eng *engine.Engine, bus *events.Bus) http.Handler {
	a := &API{eng: eng, bus: bus}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/agents", a.listAgents)
	r.Get("/agents/{key}", a.getAgent)
	r.Get("/agents/{key}/stats", a.agentStats)
	r.Get("/agents/{key}/vault", a.getVault)
	r.Get("/vaults/{key}", a.getVault)
	r.Get("/agreements", a.listAgreements)
	r.Get("/agreements/{id}", a.getAgreement)
	if bus != nil {
		r.Get("/events", a.streamEvents)
	}
	return r
}

func (a *API) getAgent(w http.ResponseWriter, r *http.Request) {
	key, err := model.ParseKey(chi.URLParam(r, "key"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_KEY", err.Error())
		return
	}
	id, err := a.eng.GetIdentity(r.Context(), key)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"request_id": engine.RequestID(r.Context()), "identity": id})
}

func (a *API) listAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f engine.IdentityFilter
	if s := q.Get("authority"); s != "" {
		k, err := model.ParseKey(s)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "BAD_KEY", err.Error())
			return
		}
		f.Authority = &k
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_QUERY", err.Error())
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_QUERY", err.Error())
		return
	}
	list, total, err := a.eng.ListIdentities(r.Context(), f)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": engine.RequestID(r.Context()),
		"agents":     list,
		"total":      total,
	})
}

func (a *API) agentStats(w http.ResponseWriter, r *http.Request) {
	key, err := model.ParseKey(chi.URLParam(r, "key"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_KEY", err.Error())
		return
	}
	stats, err := a.eng.AgentStats(r.Context(), key)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"request_id": engine.RequestID(r.Context()), "stats": stats})
}

func (a *API) getVault(w http.ResponseWriter, r *http.Request) {
	key, err := model.ParseKey(chi.URLParam(r, "key"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_KEY", err.Error())
		return
	}
	v, err := a.eng.GetVault(r.Context(), key)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": engine.RequestID(r.Context()),
		"vault":      v,
		"available":  v.Available(),
	})
}

func (a *API) getAgreement(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseAgreementID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_ID", err.Error())
		return
	}
	view, err := a.eng.GetAgreement(r.Context(), id)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": engine.RequestID(r.Context()),
		"agreement":  view.Agreement,
		"parties":    view.Parties,
	})
}

func (a *API) listAgreements(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_QUERY", err.Error())
		return
	}
	list, total, err := a.eng.ListAgreements(r.Context(), f)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": engine.RequestID(r.Context()),
		"agreements": list,
		"total":      total,
	})
}

func parseFilter(r *http.Request) (engine.AgreementFilter, error) {
	q := r.URL.Query()
	var f engine.AgreementFilter

	if s := q.Get("status"); s != "" {
		st, err := model.ParseStatus(s)
		if err != nil {
			return f, err
		}
		f.Status = &st
	}
	if s := q.Get("type"); s != "" {
		var t model.AgreementType
		if err := t.UnmarshalText([]byte(s)); err != nil {
			return f, err
		}
		f.Type = &t
	}
	if s := q.Get("visibility"); s != "" {
		var v model.Visibility
		if err := v.UnmarshalText([]byte(s)); err != nil {
			return f, err
		}
		f.Visibility = &v
	}
	if s := q.Get("party"); s != "" {
		k, err := model.ParseKey(s)
		if err != nil {
			return f, err
		}
		f.Party = &k
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func (a *API) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if engine.IsNotFound(err) {
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	WriteError(w, r, http.StatusInternalServerError, "STORE_ERROR", err.Error())
}
