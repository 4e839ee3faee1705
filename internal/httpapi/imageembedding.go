package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bhangun/wayang-inference/internal/capability/imageembedding"
	"github.com/bhangun/wayang-inference/pkg/apitypes"
)

func (s *Server) imageEmbeddingHandler(c *gin.Context) {
	var req apitypes.ImageEmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid request body: "+err.Error(), "invalid_request_error", "400"))
		return
	}

	model, err := pickModel(s.models.ImageEmbedding, req.Model)
	if err != nil {
		writeErrorChunk(c, err)
		return
	}

	st := model.EmbedImage(req.Image, parseImageSourceKind(req.Kind))
	chunk, ok := st.Next(c.Request.Context())
	if !ok {
		writeErrorChunk(c, errNoResult)
		return
	}
	if chunk.Kind == imageembedding.KindError {
		writeErrorChunk(c, chunk.Err)
		return
	}

	c.JSON(http.StatusOK, apitypes.ImageEmbeddingResponse{Object: "embedding", Model: chunk.Model, Embedding: chunk.Vector})
}

func parseImageSourceKind(kind string) imageembedding.SourceKind {
	switch kind {
	case "path":
		return imageembedding.SourcePath
	case "base64":
		return imageembedding.SourceBase64
	default:
		return imageembedding.SourceURL
	}
}
