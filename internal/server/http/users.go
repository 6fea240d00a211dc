package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// userHandler serves registration, sessions and profile management.
type userHandler struct {
	auth   service.AuthService
	cookie CookieConfig
	log    *zap.Logger
	now    func() time.Time
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User      model.User `json:"user"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

type updateUserRequest struct {
	Username     *string `json:"username"`
	ProfileImage *string `json:"profileImage"`
	OldPassword  string  `json:"oldPassword"`
	NewPassword  string  `json:"newPassword"`
}

type deleteUserRequest struct {
	Password string `json:"password"`
}

// publicUser is what other accounts may see of an identity.
type publicUser struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	ProfileImage string    `json:"profileImage,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *userHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	u, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *userHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		loginFailed(w)
		return
	}
	tok, u, err := h.auth.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.cookie.set(w, tok, h.now())
	writeJSON(w, http.StatusOK, loginResponse{User: u, ExpiresAt: tok.ExpiresAt})
}

func (h *userHandler) logout(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromCtx(r.Context())
	if err := h.auth.Logout(r.Context(), c); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.cookie.clear(w)
	writeJSON(w, http.StatusOK, statusResponse{Status: "logged out"})
}

func (h *userHandler) me(w http.ResponseWriter, r *http.Request) {
	id, _ := UserIDFromCtx(r.Context())
	u, err := h.auth.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func pathUserID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(chi.URLParam(r, "userID"))
	if err != nil {
		return uuid.Nil, errs.ErrNotFound
	}
	return id, nil
}

// self resolves {userID} and insists it is the caller.
func self(r *http.Request) (uuid.UUID, error) {
	id, err := pathUserID(r)
	if err != nil {
		return uuid.Nil, err
	}
	if caller, _ := UserIDFromCtx(r.Context()); caller != id {
		return uuid.Nil, errs.ErrForbidden
	}
	return id, nil
}

func (h *userHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUserID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	u, err := h.auth.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if caller, _ := UserIDFromCtx(r.Context()); caller == id {
		writeJSON(w, http.StatusOK, u)
		return
	}
	writeJSON(w, http.StatusOK, publicUser{ID: u.ID, Username: u.Username, ProfileImage: u.ProfileImage})
}

// writeWrongPassword answers a failed current-password check on an authenticated request.
func writeWrongPassword(w http.ResponseWriter) {
	writeErrorBody(w, http.StatusBadRequest, "wrong_password", "current password is incorrect")
}

func (h *userHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := self(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	u, err := h.auth.UpdateUser(r.Context(), id, model.ProfileUpdate{
		Username:     req.Username,
		ProfileImage: req.ProfileImage,
		OldPassword:  req.OldPassword,
		NewPassword:  req.NewPassword,
	})
	if errors.Is(err, errs.ErrInvalidCredentials) {
		writeWrongPassword(w)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *userHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := self(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req deleteUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	err = h.auth.DeleteUser(r.Context(), id, req.Password)
	if errors.Is(err, errs.ErrInvalidCredentials) {
		writeWrongPassword(w)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	// the account is gone; its session goes too
	if c, ok := ClaimsFromCtx(r.Context()); ok {
		if err := h.auth.Logout(r.Context(), c); err != nil {
			h.log.Warn("revoke after delete failed", zap.Error(err))
		}
	}
	h.cookie.clear(w)
	writeJSON(w, http.StatusOK, statusResponse{Status: "deleted"})
}
