package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type incidentService interface {
	ListIncidents(ctx context.Context, limit int) ([]domain.DriftIncident, error)
	ResolveIncident(ctx context.Context, id uuid.UUID, by string) (*domain.DriftIncident, error)
}

type incidentFeed interface {
	Subscribe(buffer int) (<-chan domain.DriftIncident, func())
}

const (
	streamBuffer    = 16
	streamKeepAlive = 25 * time.Second
)

type IncidentHandler struct {
	incidents incidentService
	feed      incidentFeed
}

func NewIncidentHandler(incidents incidentService, feed incidentFeed) *IncidentHandler {
	return &IncidentHandler{incidents: incidents, feed: feed}
}

func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			RespondValidationError(w, []FieldError{{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxPageSize)}})
			return
		}
		limit = n
	}

	incidents, err := h.incidents.ListIncidents(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list incidents", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]incidentDTO, len(incidents))
	for i := range incidents {
		dtos[i] = toIncidentDTO(&incidents[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

// Resolve closes an open incident on behalf of the calling operator.
func (h *IncidentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathUUID(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	inc, err := h.incidents.ResolveIncident(r.Context(), id, claims.Subject)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	logging.FromContext(r.Context()).Info("drift incident resolved", "incident_id", id, "resolved_by", claims.Subject)
	RespondSuccess(w, http.StatusOK, toIncidentDTO(inc))
}

// Stream pushes incidents as server-sent events until the client goes away.
func (h *IncidentHandler) Stream(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise end the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	events, unsubscribe := h.feed.Subscribe(streamBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		log.Error("incident stream cannot flush", "error", err)
		return
	}

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			_ = rc.Flush()
		case inc, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(toIncidentDTO(&inc))
			if err != nil {
				log.Error("failed to encode incident", "incident_id", inc.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: drift_incident\ndata: %s\n\n", inc.ID, data)
			_ = rc.Flush()
		}
	}
}
