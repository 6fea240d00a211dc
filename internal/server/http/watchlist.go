package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

type watchlistHandler struct {
	wl  service.WatchlistService
	log *zap.Logger
}

type entriesResponse struct {
	Entries []model.WatchlistEntry `json:"entries"`
}

type kindIDsResponse struct {
	Kind string   `json:"kind"`
	IDs  []string `json:"ids"`
}

type kindItemsResponse struct {
	Kind  string `json:"kind"`
	Items any    `json:"items"`
}

type memberResponse struct {
	Kind    string `json:"kind"`
	MediaID string `json:"mediaId"`
	Member  bool   `json:"member"`
}

func owner(r *http.Request) uuid.UUID {
	id, _ := UserIDFromCtx(r.Context())
	return id
}

func (h *watchlistHandler) list(w http.ResponseWriter, r *http.Request) {
	entries, err := h.wl.List(r.Context(), owner(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

// addMany answers 201 when something was stored and 200 when everything was already there.
func (h *watchlistHandler) addMany(w http.ResponseWriter, r *http.Request) {
	var req model.MediaSets
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	e, changed, err := h.wl.AddMany(r.Context(), owner(r), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	writeJSON(w, status, e)
}

func (h *watchlistHandler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, h.log, errs.ErrNotFound)
		return
	}
	if err := h.wl.DeleteEntry(r.Context(), owner(r), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "deleted"})
}

// kindParam reads the kind path segment. Kinds are case-insensitive.
func kindParam(r *http.Request) string {
	return strings.ToLower(chi.URLParam(r, "kind"))
}

func (h *watchlistHandler) listByKind(w http.ResponseWriter, r *http.Request) {
	kind := kindParam(r)
	if details, _ := strconv.ParseBool(r.URL.Query().Get("details")); details {
		items, err := h.wl.Expand(r.Context(), owner(r), kind)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, kindItemsResponse{Kind: kind, Items: items})
		return
	}
	ids, err := h.wl.ListByKind(r.Context(), owner(r), kind)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, kindIDsResponse{Kind: kind, IDs: ids})
}

func (h *watchlistHandler) isMember(w http.ResponseWriter, r *http.Request) {
	kind, id := kindParam(r), chi.URLParam(r, "mediaID")
	ok, err := h.wl.IsMember(r.Context(), owner(r), kind, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{Kind: kind, MediaID: id, Member: ok})
}

type tupleOp func(r *http.Request, owner uuid.UUID, kind, mediaID string) (model.Membership, error)

func (h *watchlistHandler) tuple(op tupleOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := op(r, owner(r), kindParam(r), chi.URLParam(r, "mediaID"))
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (h *watchlistHandler) add(r *http.Request, o uuid.UUID, kind, id string) (model.Membership, error) {
	return h.wl.Add(r.Context(), o, kind, id)
}

func (h *watchlistHandler) remove(r *http.Request, o uuid.UUID, kind, id string) (model.Membership, error) {
	return h.wl.Remove(r.Context(), o, kind, id)
}

func (h *watchlistHandler) toggle(r *http.Request, o uuid.UUID, kind, id string) (model.Membership, error) {
	return h.wl.Toggle(r.Context(), o, kind, id)
}

func (h *watchlistHandler) catalogDetails(w http.ResponseWriter, r *http.Request) {
	d, err := h.wl.Details(r.Context(), kindParam(r), chi.URLParam(r, "mediaID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
