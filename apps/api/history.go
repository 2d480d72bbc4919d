package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mahaj/venue-support/pkg/auth"
	"github.com/mahaj/venue-support/pkg/model"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

type HistoryResponse struct {
	Items []model.Frame `json:"items"`
}

// History returns the newest messages of one customer's thread, oldest
// first. Customers always read their own thread; staff pick one with uid.
func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var customerID int64
	if claims.Role.IsStaff() {
		raw := strings.TrimSpace(r.URL.Query().Get("uid"))
		if raw == "" {
			writeDetail(w, http.StatusBadRequest, "missing customer uid")
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeDetail(w, http.StatusBadRequest, "invalid customer uid")
			return
		}
		customerID = id
	} else {
		id, err := claims.UserID.Int64()
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		customerID = id
	}

	limit := queryLimit(r, defaultHistoryLimit, maxHistoryLimit)
	envs, err := s.messages.Recent(r.Context(), customerID, limit)
	if err != nil {
		s.logger.Error("failed to load history", "customer", customerID, "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	resp := HistoryResponse{Items: make([]model.Frame, 0, len(envs))}
	for _, e := range envs {
		resp.Items = append(resp.Items, e.Frame())
	}
	writeJSON(w, http.StatusOK, resp)
}
