package msgserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
	"github.com/tOgg1/casechat/internal/msgdb"
	"github.com/tOgg1/casechat/internal/notify"
)

const (
	maxBodyBytes   = 1 << 20
	pushBodyLength = 140
)

var errNoUser = errors.New("missing or invalid " + msgapi.HeaderUserID + " header")

// badRequest marks malformed input that carries no sentinel of its own.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

type viewHandler func(w http.ResponseWriter, r *http.Request, v *msgdb.View)

func (s *Server) withView(next viewHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get(msgapi.HeaderUserID), 10, 64)
		if err != nil {
			writeError(w, r, errNoUser)
			return
		}
		v, err := s.store.ForUser(userID)
		if err != nil {
			writeError(w, r, errNoUser)
			return
		}
		next(w, r, v)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	q, err := msgapi.ParseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, badRequest{err})
		return
	}
	msgs, err := v.ListMessages(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (s *Server) listModified(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	raw := r.URL.Query().Get("after")
	after, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		writeError(w, r, badRequest{fmt.Errorf("invalid after %q", raw)})
		return
	}
	msgs, err := v.ListModifiedMessages(r.Context(), after)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	msg, err := v.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	var req msgapi.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := v.CreateMessage(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audience, err := s.store.Audience(r.Context(), msg)
	if err != nil {
		logger := logging.FromContext(r.Context())
		logger.Warn().Err(err).Msg("failed to resolve push audience")
	} else {
		serverID, _ := msg.ID.Server()
		s.push.publish(audience, notify.Payload{
			MessageID:     serverID,
			SenderID:      msg.SenderID,
			RecipientID:   msg.Recipient.ID,
			RecipientType: msg.Recipient.Kind,
			Body:          snippet(msg.Content, pushBodyLength),
			SentAt:        msg.CreatedAt,
		})
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req msgapi.UpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := v.UpdateMessage(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := v.DeleteMessage(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	var marker msgapi.ReadMarker
	if !decodeBody(w, r, &marker) {
		return
	}
	recipient, err := marker.Recipient()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := v.MarkChatRead(r.Context(), recipient); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unread(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	counts, err := v.UnreadCountsDetailed(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if counts == nil {
		counts = models.UnreadCounts{}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) listTeams(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	teams, err := v.ListTeams(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(teams))
}

func (s *Server) createTeam(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	var req msgapi.TeamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	team, err := v.CreateTeam(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) updateTeam(w http.ResponseWriter, r *http.Request, v *msgdb.View) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req msgapi.TeamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	team, err := v.UpdateTeam(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, badRequest{fmt.Errorf("invalid id %q", raw)})
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		writeError(w, r, badRequest{fmt.Errorf("invalid request body: %w", err)})
		return false
	}
	return true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func snippet(content string, limit int) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	runes := []rune(content)
	return string(runes[:limit-1]) + "…"
}

func statusFor(err error) int {
	var validation *models.ValidationErrors
	var bad badRequest
	switch {
	case errors.As(err, &bad), errors.As(err, &validation),
		errors.Is(err, models.ErrInvalidRecipient),
		errors.Is(err, models.ErrInvalidMessageType),
		errors.Is(err, models.ErrEmptyContent),
		errors.Is(err, models.ErrTeamNameRequired),
		errors.Is(err, msgdb.ErrNothingToUpdate):
		return http.StatusBadRequest
	case errors.Is(err, errNoUser):
		return http.StatusUnauthorized
	case errors.Is(err, msgdb.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, msgdb.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		message = "internal error"
	}
	writeJSONError(w, status, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, msgapi.APIError{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
