package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jghoshh/goalnudge/backend/goals"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/planner"
	"github.com/jghoshh/goalnudge/backend/server/auth"
	"github.com/jghoshh/goalnudge/backend/server/context_key"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type signUpResponse struct {
	*auth.Tokens
	User *models.User `json:"user"`
}

type amountRequest struct {
	By *int `json:"by,omitempty"`
}

type activeRequest struct {
	Active *bool `json:"active"`
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID)

// authenticated rejects requests the JWT middleware could not attach a user to.
func (s *Server) authenticated(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := r.Context().Value(contextKey.UserIDKey).(primitive.ObjectID)
		if !ok {
			err, _ := r.Context().Value(contextKey.JwtErrorKey).(error)
			if err == nil {
				err = errors.New("authentication required")
			}
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !s.decode(w, r, &req) {
		return
	}
	tokens, user, err := s.auth.SignUp(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, signUpResponse{Tokens: tokens, User: user})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !s.decode(w, r, &req) {
		return
	}
	tokens, err := s.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	tokens, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	if err := s.auth.SignOut(r.Context(), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	user, err := s.goals.Profile(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	var patch goals.ProfilePatch
	if !s.decode(w, r, &patch) {
		return
	}
	update, err := s.goals.UpdateProfile(r.Context(), userID, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	res, err := s.goals.DeleteAccount(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	var active *bool
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "active must be true or false"})
			return
		}
		active = &b
	}
	list, err := s.goals.List(r.Context(), userID, active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	var in goals.GoalInput
	if !s.decode(w, r, &in) {
		return
	}
	m, err := s.goals.Create(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	res, err := s.goals.Resync(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	goalID, ok := s.goalID(w, r)
	if !ok {
		return
	}
	g, err := s.goals.Get(r.Context(), userID, goalID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	goalID, ok := s.goalID(w, r)
	if !ok {
		return
	}
	var patch goals.GoalPatch
	if !s.decode(w, r, &patch) {
		return
	}
	m, err := s.goals.Update(r.Context(), userID, goalID, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	goalID, ok := s.goalID(w, r)
	if !ok {
		return
	}
	res, err := s.goals.Delete(r.Context(), userID, goalID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	goalID, ok := s.goalID(w, r)
	if !ok {
		return
	}
	g, err := s.goals.Toggle(r.Context(), userID, goalID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	goalID, by, ok := s.amount(w, r)
	if !ok {
		return
	}
	g, err := s.goals.Increment(r.Context(), userID, goalID, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDecrement(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	goalID, by, ok := s.amount(w, r)
	if !ok {
		return
	}
	g, err := s.goals.Decrement(r.Context(), userID, goalID, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	goalID, ok := s.goalID(w, r)
	if !ok {
		return
	}
	var req activeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "active is required"})
		return
	}
	m, err := s.goals.SetActive(r.Context(), userID, goalID, *req.Active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleRegistrations(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	goalID, ok := s.goalID(w, r)
	if !ok {
		return
	}
	pending, err := s.goals.Registrations(r.Context(), userID, goalID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pending)
}

// goalID parses the {id} route variable. An id that is not an ObjectID
// cannot name a goal, so it is reported as not found.
func (s *Server) goalID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: goals.ErrGoalNotFound.Error()})
		return primitive.NilObjectID, false
	}
	return id, true
}

// amount reads the goal id and the optional {"by": n} body, defaulting to 1.
func (s *Server) amount(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, int, bool) {
	goalID, ok := s.goalID(w, r)
	if !ok {
		return primitive.NilObjectID, 0, false
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return primitive.NilObjectID, 0, false
	}
	by := 1
	if req.By != nil {
		by = *req.By
	}
	return goalID, by, true
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, goals.ErrGoalNotFound), errors.Is(err, goals.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, goals.ErrWrongGoalKind), errors.Is(err, auth.ErrAccountExists), errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, goals.ErrInvalidGoal), errors.Is(err, goals.ErrInvalidProfile), errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, planner.ErrInvalidFrequency), errors.Is(err, planner.ErrInvalidSlot):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal server error"
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
