package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jprocode/DocAssist-AI/internal/auth"
	"github.com/jprocode/DocAssist-AI/internal/chat"
	"github.com/jprocode/DocAssist-AI/internal/stream"
)

const (
	authCookieName  = "docassist_auth"
	authCookieValue = "authenticated"
)

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondLoginError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	identity := clientIdentity(r)
	res, err := s.session.Login(r.Context(), identity, req.Password)
	if errors.Is(err, auth.ErrMissingPassword) {
		s.respondLoginError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err != nil {
		// the backoff delay was interrupted; the client is already gone
		s.logger.Debug("login aborted", zap.String("identity", identity), zap.Error(err))
		s.respondLoginError(w, http.StatusServiceUnavailable, "Login aborted")
		return
	}

	switch {
	case res.OK:
		s.setAuthCookie(w, res.ExpiresAt)
		s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
	case res.Locked:
		minutes := int((res.RetryAfter + time.Minute - 1) / time.Minute)
		s.respondLoginError(w, http.StatusTooManyRequests,
			fmt.Sprintf("Too many failed attempts. Try again in %d minute(s).", minutes))
	case res.RetryAfter > 0:
		// this failure triggered the lockout
		s.respondLoginError(w, http.StatusUnauthorized,
			fmt.Sprintf("Too many failed attempts. Account locked for %d minutes.",
				int(res.RetryAfter/time.Minute)))
	default:
		s.respondLoginError(w, http.StatusUnauthorized,
			fmt.Sprintf("Invalid password. %d attempt(s) remaining.", res.AttemptsRemaining))
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if !isAuthenticated(r) {
		s.respondJSON(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAuth gates the ask relay on the session cookie. The check is by
// cookie presence and value only; no server-side session state is consulted.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAuthenticated(r) {
			s.respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type askRequest struct {
	Question     string `json:"question"`
	UseWebSearch bool   `json:"use_web_search"`
	Stream       bool   `json:"stream"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	identity := clientIdentity(r)

	if !s.limiter.Allow(identity) {
		s.logger.Warn("ask rate limit exceeded", zap.String("identity", identity))
		s.respondError(w, http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded. Maximum %d requests per minute.", s.limiter.PerMinute()))
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	s.logger.Debug("ask request",
		zap.String("doc_id", docID),
		zap.Bool("stream", req.Stream),
		zap.Bool("web", req.UseWebSearch))

	if !req.Stream {
		answer, err := s.asker.Ask(r.Context(), docID, req.Question, req.UseWebSearch)
		if err != nil {
			s.logger.Error("ask failed", zap.String("doc_id", docID), zap.Error(err))
			s.respondError(w, http.StatusBadGateway, "answer service unavailable")
			return
		}
		s.respondJSON(w, http.StatusOK, answer)
		return
	}

	s.relayStream(w, r, docID, req)
}

// relayStream forwards the upstream answer stream to the client one decoded
// event at a time, flushing after each so partial answers render live. A
// truncated upstream stream simply ends the response without a done record;
// the browser side treats that as a failed turn.
func (s *Server) relayStream(w http.ResponseWriter, r *http.Request, docID string, req askRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	body, err := s.asker.Relay(r.Context(), docID, chat.AskRequest{
		Question:     req.Question,
		UseWebSearch: req.UseWebSearch,
	})
	if err != nil {
		s.logger.Error("ask relay failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, "answer service unavailable")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	dec := stream.NewDecoder(body)
	for {
		ev, err := dec.Next(r.Context())
		if err == io.EOF {
			return
		}
		if err != nil {
			s.logger.Warn("ask relay interrupted", zap.String("doc_id", docID), zap.Error(err))
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
		if ev.Type == stream.EventDone {
			return
		}
	}
}

func isAuthenticated(r *http.Request) bool {
	c, err := r.Cookie(authCookieName)
	return err == nil && c.Value == authCookieValue
}

func (s *Server) setAuthCookie(w http.ResponseWriter, expires time.Time) {
	sameSite := http.SameSiteLaxMode
	if s.config.Production {
		sameSite = http.SameSiteStrictMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    authCookieValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.Production,
		SameSite: sameSite,
		Expires:  expires,
	})
}

// clientIdentity buckets rate state by network origin: the first
// X-Forwarded-For hop when present, else the remote address host.
func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondLoginError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
