package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type roleRequest struct {
	User  string `json:"user"`
	Role  string `json:"role"`
	Color string `json:"color,omitempty"`
}

// assignRole is the privileged role endpoint. The bearer token is compared
// in constant time; a mismatch reveals nothing about whether the identity
// exists.
func (a *App) assignRole(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.User = strings.TrimSpace(req.User)
	req.Role = strings.TrimSpace(req.Role)
	if req.User == "" || req.Role == "" {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := a.cs.SetRole(req.User, req.Role, req.Color); err != nil {
		a.log.Printf("assign role: %v", err)
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.AdminToken)) == 1
}
