package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corvid-labs/orchestrator/pkg/controlproto"
)

// writeError maps a controlproto.Error's category to an HTTP status,
// grounded on tarsy's errors.go (mapServiceError): a per-category switch
// ending in a generic 500 for anything unrecognized, with the category
// itself always included in the body so clients needn't parse prose.
func writeError(c *gin.Context, err *controlproto.Error) {
	status := http.StatusInternalServerError
	switch err.Category {
	case controlproto.CategoryValidation:
		status = http.StatusBadRequest
	case controlproto.CategoryNotFound:
		status = http.StatusNotFound
	case controlproto.CategoryOverloaded:
		status = http.StatusTooManyRequests
	case controlproto.CategoryCancellation:
		status = http.StatusConflict
	case controlproto.CategoryPlanning, controlproto.CategoryProvider,
		controlproto.CategoryEmbedder, controlproto.CategoryStorage,
		controlproto.CategoryInitialization, controlproto.CategoryRetryExhausted:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"category":   err.Category,
		"message":    err.Message,
		"causeChain": err.CauseChain,
	})
}
