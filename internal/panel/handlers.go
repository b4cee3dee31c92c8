package panel

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/roverlink/roverlink/internal/hub"
	"github.com/roverlink/roverlink/internal/relay"
	"github.com/roverlink/roverlink/internal/session"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Username string       `json:"username"`
	Role     session.Role `json:"role"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type robotEntry struct {
	RobotID         string `json:"robotId"`
	Name            string `json:"name"`
	Online          bool   `json:"online"`
	LastTelemetryAt string `json:"lastTelemetryAt,omitempty"`
}

type statusResponse struct {
	Rooms       []hub.RoomReport     `json:"rooms"`
	Connections []relay.ClientReport `json:"connections"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("error", err).Debug("panel: response encode failed")
	}
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}

func (s *server) loginHandler(w http.ResponseWriter, r *http.Request) {

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad request"})
		return
	}

	role, err := s.config.Accounts.Check(req.Username, req.Password)
	if err != nil {
		// same response for unknown user and wrong password
		unauthorized(w)
		return
	}

	value, err := s.signer.Sign(session.Payload{
		Subject:   req.Username,
		Role:      role,
		ExpiresAt: time.Now().Add(s.config.SessionTTL).UnixMilli(),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.config.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	log.WithFields(log.Fields{"username": req.Username, "role": role}).Info("panel: login")

	writeJSON(w, http.StatusOK, loginResponse{Username: req.Username, Role: role})
}

func (s *server) logoutHandler(w http.ResponseWriter, r *http.Request) {

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, p session.Payload)

func (s *server) requireSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		cookie, err := r.Cookie(session.CookieName)
		if err != nil {
			unauthorized(w)
			return
		}

		p, ok := s.signer.Verify(cookie.Value)
		if !ok {
			unauthorized(w)
			return
		}

		next(w, r, p)
	}
}

func (s *server) requireAdmin(next sessionHandler) http.HandlerFunc {
	return s.requireSession(func(w http.ResponseWriter, r *http.Request, p session.Payload) {
		if p.Role != session.Admin {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
			return
		}
		next(w, r, p)
	})
}

func (s *server) robotsHandler(w http.ResponseWriter, r *http.Request, p session.Payload) {

	robots := s.config.Registry.ListEnabled()

	entries := make([]robotEntry, 0, len(robots))
	for _, robot := range robots {
		entry := robotEntry{
			RobotID: robot.ID,
			Name:    robot.Name,
			Online:  s.hub.Online(robot.ID),
		}
		if last := s.hub.LastTelemetryAt(robot.ID); !last.IsZero() {
			entry.LastTelemetryAt = last.Format(time.RFC3339Nano)
		}
		entries = append(entries, entry)
	}

	// liveness data goes stale within seconds
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) statusHandler(w http.ResponseWriter, r *http.Request, p session.Payload) {

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, statusResponse{
		Rooms:       s.hub.Report(),
		Connections: s.relay.Report(),
	})
}
