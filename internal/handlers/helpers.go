package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/scriba/internal/services/auth"
)

// RequireMethod validates the request method, writing a 405 on mismatch
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteDetail writes the immediate-return control acknowledgement used by
// batch control endpoints
func WriteDetail(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"detail": message,
	})
}

// RequireClaims authenticates the request, writing a 401 if the credential
// is missing or invalid
func RequireClaims(w http.ResponseWriter, r *http.Request, authService *auth.Service) *auth.Claims {
	claims, err := authService.Authenticate(r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "Invalid or missing credentials")
		return nil
	}
	return claims
}
