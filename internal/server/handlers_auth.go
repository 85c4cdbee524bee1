package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/models"
)

const tokenIssuer = "papertrade-server"

// --- JWT helpers ---

// signJWT creates a signed HMAC-SHA256 JWT for the given user.
func signJWT(user *models.User, config *common.AuthConfig) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(config.GetTokenExpiry())
	claims := jwt.MapClaims{
		"jti":      uuid.New().String(),
		"sub":      strconv.FormatInt(user.ID, 10),
		"username": user.Username,
		"iss":      tokenIssuer,
		"iat":      now.Unix(),
		"exp":      exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(config.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// validateJWT parses and validates a JWT token string using the given secret.
func validateJWT(tokenString string, secret []byte) (*jwt.Token, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, nil, err
	}
	return token, claims, nil
}

type credentialsRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	token, exp, err := signJWT(user, &s.app.Config.Auth)
	if err != nil {
		writeServiceError(w, r, s.logger, fmt.Errorf("failed to sign token: %w", err))
		return
	}
	WriteJSON(w, status, sessionResponse{Token: token, ExpiresAt: exp, User: user})
}

// handleAuthRegister handles POST /api/auth/register. A successful
// registration also logs the new user in.
func (s *Server) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req credentialsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	user, err := s.app.AccountService.Register(r.Context(), req.Username, req.Password, req.Confirmation)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	s.writeSession(w, r, http.StatusCreated, user)
}

// handleAuthLogin handles POST /api/auth/login.
func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req credentialsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	user, err := s.app.AccountService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	s.writeSession(w, r, http.StatusOK, user)
}

// handleAuthLogout handles POST /api/auth/logout. The presented token is
// revoked until it would have expired anyway.
func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireUser(w, r); !ok {
		return
	}

	tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	_, claims, err := validateJWT(tokenString, []byte(s.app.Config.Auth.JWTSecret))
	if err == nil {
		jti, _ := claims["jti"].(string)
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.revoke(jti, exp.Time)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAuthMe handles GET /api/auth/me, returning the session's account.
func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	user, err := s.app.AccountService.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}
