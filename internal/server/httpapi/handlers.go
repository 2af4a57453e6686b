package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/spots/internal/common"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type publicKeyResponse struct {
	PublicKey []byte `json:"public_key"`
}

type signRequest struct {
	Message []byte `json:"message"`
}

type signResponse struct {
	Signature []byte `json:"signature"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	for _, ping := range h.ready {
		if err := ping(r.Context()); err != nil {
			h.logger.Error(r.Context(), "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Username: u.UserName, CreatedAt: u.CreatedAt})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     common.AuthCookieName,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Token: s.Token, ExpiresAt: s.ExpiresAt})
}

// logout only clears the cookie. Tokens are stateless and stay valid until
// they expire.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.AuthCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	u, err := h.users.Me(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: u.ID, Username: u.UserName, CreatedAt: u.CreatedAt})
}

func (h *Handler) publicKey(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	pub, err := h.identities.PublicKey(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: pub})
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req signRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Message) == 0 {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	sig, err := h.identities.Sign(r.Context(), userID, req.Message)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signResponse{Signature: sig})
}

func (h *Handler) rotate(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	k, err := h.identities.Rotate(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: k.PublicKey})
}

func (h *Handler) backup(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	b, err := h.identities.Backup(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}
