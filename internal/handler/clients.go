package handler

import (
	"net/http"

	"edgecloud/internal/logger"
)

// IdentityLister reports the identities connected to the edge server.
type IdentityLister interface {
	Identities() []string
}

// GetClientsHandler lists the edge devices connected to the edge server.
func GetClientsHandler(server IdentityLister, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identities := server.Identities()
		writeJSON(w, map[string]any{"count": len(identities), "clients": identities}, logger)
	}
}
