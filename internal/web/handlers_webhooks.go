package web

import (
	"net/http"

	"github.com/JonMunkholm/catalog-importer/internal/core"
)

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := s.service.ListSubscriptions(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, subs)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var in core.SubscriptionInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}

	sub, err := s.service.CreateSubscription(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, sub)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	sub, err := s.service.GetSubscription(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sub)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var patch core.SubscriptionPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.respondError(w, r, err)
		return
	}

	sub, err := s.service.UpdateSubscription(r.Context(), id, patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sub)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.DeleteSubscription(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"deleted": true})
}

// handleTestWebhook queues one delivery to the subscription and returns
// without waiting for it.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.TriggerSubscriptionTest(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
