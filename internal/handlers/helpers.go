package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/platform/auth"
)

const defaultMaxRequestBody = 8 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds size limit")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxRequestBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// actorRole maps the identity's claims onto the closed role set, keeping the
// most privileged role when several are present.
func actorRole(identity *auth.Identity) domain.Role {
	if identity == nil {
		return domain.RoleCustomer
	}
	best := domain.RoleCustomer
	for _, raw := range identity.Roles {
		role := domain.ParseRole(raw)
		if rolePrecedence(role) > rolePrecedence(best) {
			best = role
		}
	}
	return best
}

func rolePrecedence(role domain.Role) int {
	switch role {
	case domain.RoleAdmin:
		return 4
	case domain.RoleManager:
		return 3
	case domain.RoleOperations:
		return 2
	case domain.RoleSalesSupport:
		return 1
	default:
		return 0
	}
}
