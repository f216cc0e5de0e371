package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/model"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message    string `json:"message"`
	RequireOTP bool   `json:"requireOTP"`
}

type userResponse struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

type sessionResponse struct {
	Token       string       `json:"token"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	RedirectURL string       `json:"redirectUrl"`
	User        userResponse `json:"user"`
}

type roleRequest struct {
	Role model.Role `json:"role"`
}

type profileRequest struct {
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID.String(), Name: u.Name, Email: u.Email, Role: u.Role}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful. Verify your email using the code sent.",
		"user":    toUserResponse(u),
	})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.auth.VerifyEmail(r.Context(), req.Email, req.OTP, clientIP(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Email verified"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.auth.Login(r.Context(), req.Email, req.Password, clientIP(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Message: "Login code sent", RequireOTP: true})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.auth.VerifyLogin(r.Context(), req.Email, req.OTP, clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:       sess.Token,
		ExpiresAt:   sess.ExpiresAt,
		RedirectURL: sess.RedirectURL,
		User:        toUserResponse(&sess.User),
	})
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromCtx(r.Context())
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.auth.SetRole(r.Context(), claims.Email, r.PathValue("email"), req.Role); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Role updated"})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromCtx(r.Context())
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(w, r, fmt.Errorf("passwords do not match: %w", errs.ErrInvalidArgument))
		return
	}
	if err := s.auth.UpdateProfile(r.Context(), claims.Email, req.Name, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Profile updated"})
}
