package backend

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenValidator validates a JWT and returns its claims.
type TokenValidator interface {
	Validate(tokenString string) (jwt.MapClaims, error)
}

// errorResponse is the body of every rejection.
type errorResponse struct {
	Detail string `json:"detail"`
}

// NewHandler returns the backend API: GET / validates the bearer JWT and
// answers with its claims.
func NewHandler(validator TokenValidator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "Not authenticated"})
			return
		}

		claims, err := validator.Validate(tokenString)
		if err != nil {
			zap.L().Info("Rejected JWT", zap.Error(err))
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: capitalize(err.Error())})
			return
		}

		zap.L().Info("JWT token information", zap.Any("claims", map[string]any(claims)))
		writeJSON(w, http.StatusOK, claims)
	})
	return mux
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("Failed to write response", zap.Error(err))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
