package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corvid-labs/orchestrator/pkg/controlproto"
)

// toolHandler handles POST /api/v1/tools/:name, binding the JSON body
// directly as the tool's argument map and dispatching through
// Dispatcher (which enforces MAX_TOOL_DEPTH). Mirrors tarsy's
// submitAlertHandler shape: bind, call the service layer, map the
// resulting error, return the JSON response.
func (s *Server) toolHandler(c *gin.Context) {
	name := c.Param("name")

	var args map[string]any
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			writeError(c, controlproto.ErrValidation(err.Error()))
			return
		}
	}

	result, verr := s.dispatcher.Dispatch(c.Request.Context(), name, args, 0)
	if verr != nil {
		writeError(c, verr)
		return
	}
	switch v := result.(type) {
	case string:
		c.String(http.StatusOK, v)
	default:
		c.JSON(http.StatusOK, v)
	}
}

// cancelJobHandler handles POST /api/v1/jobs/:id/cancel, a thin
// convenience route over the cancel_job tool for clients that prefer a
// resource-oriented URL to the generic tool dispatch endpoint.
func (s *Server) cancelJobHandler(c *gin.Context) {
	id := c.Param("id")
	result, verr := s.dispatcher.Dispatch(c.Request.Context(), "cancel_job", map[string]any{"job_id": id}, 0)
	if verr != nil {
		writeError(c, verr)
		return
	}
	c.JSON(http.StatusOK, result)
}
