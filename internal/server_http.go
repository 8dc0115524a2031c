package internal

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"roomchat/internal/chat"
	"roomchat/internal/logging"
	"roomchat/internal/metrics"
	"roomchat/internal/storage"
)

const maxJSONBody = 1 << 20

var errInternal = errors.New("internal server error")

type credentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Avatar   string `json:"avatar,omitempty" validate:"omitempty,max=512"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	User      userResponse `json:"user"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.fail(w, r, fmt.Errorf("hash password: %w", err))
		return
	}
	id, err := s.store.CreateUser(r.Context(), req.Username, req.Avatar, hash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusConflict, errors.New("username already taken"))
			return
		}
		s.fail(w, r, err)
		return
	}
	metrics.SignupsTotal.Inc()
	logging.Ctx(r.Context()).Info().Int64("user", id).Str("username", req.Username).Msg("user signed up")
	writeJSON(w, http.StatusCreated, userResponse{ID: id, Username: req.Username, Avatar: req.Avatar})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	now := s.now()
	sessionID := uuid.NewString()
	token, expiresAt, err := s.tokens.issue(user.ID, user.Username, sessionID, now)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.CreateSession(r.Context(), user.ID, sessionID, expiresAt); err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.LoginsTotal.Inc()
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		User:      userResponse{ID: user.ID, Username: user.Username, Avatar: user.Avatar},
		ExpiresAt: expiresAt,
	})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	a, err := s.authenticateRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteSession(r.Context(), a.Session); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeValid decodes a JSON body and runs its validate tags. Both failures
// are reported as chat.ErrValidation.
func (s *Server) decodeValid(r *http.Request, out interface{}) error {
	if err := decodeJSON(r, out); err != nil {
		return fmt.Errorf("%w: invalid request body", chat.ErrValidation)
	}
	if err := s.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %s", chat.ErrValidation, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

// fail maps an error to its HTTP status. Service errors keep their detail;
// anything else is logged and reported as a 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errUnauthorized):
		writeError(w, http.StatusUnauthorized, errUnauthorized)
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New(chat.Detail(err)))
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, errors.New(chat.Detail(err)))
	case errors.Is(err, chat.ErrValidation),
		errors.Is(err, chat.ErrConflict),
		errors.Is(err, chat.ErrCapacityExceeded):
		writeError(w, http.StatusBadRequest, errors.New(chat.Detail(err)))
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, errInternal)
	}
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"message": err.Error()})
}
