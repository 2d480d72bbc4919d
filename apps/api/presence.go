package main

import (
	"net/http"
	"time"

	"github.com/mahaj/venue-support/pkg/auth"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

type RecentItem struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	LastTime time.Time `json:"last_time"`
	Status   string    `json:"status"`
}

type RecentResponse struct {
	Items []RecentItem `json:"items"`
}

// Recent lists the customers who wrote most recently, for staff picking a
// thread to answer.
func (s *Server) Recent(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if !claims.Role.IsStaff() {
		writeDetail(w, http.StatusForbidden, "Staff only")
		return
	}

	customers, err := s.recent.Recent(r.Context(), queryLimit(r, defaultRecentLimit, maxRecentLimit))
	if err != nil {
		s.logger.Error("failed to fetch recent customers", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to fetch presence")
		return
	}

	resp := RecentResponse{Items: make([]RecentItem, 0, len(customers))}
	for _, c := range customers {
		status := "offline"
		if c.Online {
			status = "online"
		}
		resp.Items = append(resp.Items, RecentItem{
			UserID:   c.UserID,
			Username: c.Username,
			LastTime: c.LastTime,
			Status:   status,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
