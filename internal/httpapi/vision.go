package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bhangun/wayang-inference/internal/capability/vision"
	"github.com/bhangun/wayang-inference/pkg/apitypes"
)

// visionHandler always streams its response over SSE — a vision chunk is
// the text-to-text tagged union, and describing an image is naturally an
// incremental, token-at-a-time operation with no one-shot wire shape.
func (s *Server) visionHandler(c *gin.Context) {
	var req apitypes.VisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid request body: "+err.Error(), "invalid_request_error", "400"))
		return
	}

	model, err := pickModel(s.models.Vision, req.Model)
	if err != nil {
		writeErrorChunk(c, err)
		return
	}

	st := model.Describe(req.Image, parseImageSourceKindForVision(req.Kind), req.Query)
	streamSSE(c, st, texttotextToEvent)
}

func parseImageSourceKindForVision(kind string) vision.ImageSourceKind {
	if kind == "path" {
		return vision.ImageSourcePath
	}
	return vision.ImageSourceURL
}
