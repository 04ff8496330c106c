package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Request body caps. An SDP blob with many media sections stays well under
// the first; a single candidate line is a few hundred bytes.
const (
	maxDescriptionBytes = 64 << 10
	maxCandidateBytes   = 4 << 10
)

type createCallResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) createCall(w http.ResponseWriter, r *http.Request) {
	id, err := h.Store.CreateRecord(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.Metrics.CallsCreated.Inc()
	log.Info().Str("call_id", id.String()).Msg("Call record created")
	writeJSON(w, http.StatusCreated, createCallResponse{ID: id.String()})
}

func (h *Handler) getCall(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetRecord(r.Context(), callID(r))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) setOffer(w http.ResponseWriter, r *http.Request) {
	h.setDescription(w, r, domain.SDPTypeOffer)
}

func (h *Handler) setAnswer(w http.ResponseWriter, r *http.Request) {
	h.setDescription(w, r, domain.SDPTypeAnswer)
}

func (h *Handler) setDescription(w http.ResponseWriter, r *http.Request, typ domain.SDPType) {
	var desc domain.SessionDescription
	if err := decodeBody(w, r, maxDescriptionBytes, &desc); err != nil {
		writeBodyError(w, "invalid description", err)
		return
	}
	if desc.Type != typ {
		writeError(w, http.StatusBadRequest, "description type must be "+string(typ))
		return
	}

	id := callID(r)
	var err error
	if typ == domain.SDPTypeOffer {
		err = h.Store.SetOffer(r.Context(), id, desc)
	} else {
		err = h.Store.SetAnswer(r.Context(), id, desc)
	}
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.Metrics.DescriptionsSet.WithLabelValues(string(typ)).Inc()
	log.Info().Str("call_id", id.String()).Str("type", string(typ)).Msg("Description set")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) appendCandidate(w http.ResponseWriter, r *http.Request) {
	side, err := domain.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var c domain.IceCandidate
	if err := decodeBody(w, r, maxCandidateBytes, &c); err != nil {
		writeBodyError(w, "invalid candidate", err)
		return
	}

	entryID, err := h.Store.AppendCandidate(r.Context(), callID(r), side, c)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.Metrics.CandidatesAppended.WithLabelValues(string(side)).Inc()
	writeJSON(w, http.StatusCreated, domain.CandidateEntry{ID: entryID, IceCandidate: c})
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		h.Metrics.Conflicts.Inc()
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Store request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeBodyError(w http.ResponseWriter, what string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, what+": body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		return
	}
	writeError(w, http.StatusBadRequest, what+": "+err.Error())
}

func callID(r *http.Request) domain.CallID {
	return domain.CallID(chi.URLParam(r, "callID"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
