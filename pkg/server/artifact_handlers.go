package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/stakecert/aggregator/pkg/chainer"
	"github.com/stakecert/aggregator/pkg/entities"
)

// ArtifactHandlers serves GET /artifact/{kind}[/{hash}], per spec.md
// §6's published artifact interface. Every artifact kind the system
// knows about is backed by a sealed Certificate for the matching
// signed-entity discriminant.
type ArtifactHandlers struct {
	certificates *chainer.Store
	logger       *log.Logger
}

// NewArtifactHandlers creates artifact-listing handlers.
func NewArtifactHandlers(certificates *chainer.Store, logger *log.Logger) *ArtifactHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[ArtifactAPI] ", log.LstdFlags)
	}
	return &ArtifactHandlers{certificates: certificates, logger: logger}
}

var artifactKindToDiscriminant = map[string]entities.SignedEntityDiscriminant{
	"snapshot":                     entities.DiscriminantCardanoImmutableFilesFull,
	"mithril-stake-distribution":   entities.DiscriminantMithrilStakeDistribution,
	"cardano-stake-distribution":   entities.DiscriminantCardanoStakeDistribution,
	"cardano-transaction":         entities.DiscriminantCardanoTransactions,
	"cardano-database":            entities.DiscriminantCardanoDatabase,
}

const artifactListLimit = 20

// HandleArtifact handles GET /artifact/{kind}[/{hash}].
func (h *ArtifactHandlers) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/artifact/")
	if path == "" || path == r.URL.Path {
		writeJSONError(w, "artifact kind is required", http.StatusBadRequest)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	kind := parts[0]
	discriminant, ok := artifactKindToDiscriminant[kind]
	if !ok {
		writeJSONError(w, "unknown artifact kind", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if len(parts) == 2 && parts[1] != "" {
		hash := strings.TrimSuffix(parts[1], "/download")
		cert, err := h.certificates.ByHash(ctx, hash)
		if err != nil {
			writeJSONError(w, "artifact not found", http.StatusNotFound)
			return
		}
		if cert.SignedEntityType.Discriminant != discriminant {
			writeJSONError(w, "artifact not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, cert)
		return
	}

	list, err := h.certificates.ListByDiscriminant(ctx, discriminant, artifactListLimit)
	if err != nil {
		h.logger.Printf("list artifacts for %s: %v", discriminant, err)
		writeJSONError(w, "failed to list artifacts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
