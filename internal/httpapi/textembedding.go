package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bhangun/wayang-inference/internal/capability/textembedding"
	"github.com/bhangun/wayang-inference/pkg/apitypes"
)

func (s *Server) embeddingHandler(c *gin.Context) {
	var req apitypes.EmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid request body: "+err.Error(), "invalid_request_error", "400"))
		return
	}

	model, err := pickModel(s.models.TextEmbedding, req.Model)
	if err != nil {
		writeErrorChunk(c, err)
		return
	}

	st := model.Embed(req.Input)
	chunk, ok := st.Next(c.Request.Context())
	if !ok {
		writeErrorChunk(c, errNoResult)
		return
	}
	if chunk.Kind == textembedding.KindError {
		writeErrorChunk(c, chunk.Err)
		return
	}

	data := make([]apitypes.EmbeddingItem, len(chunk.Vectors))
	for i, v := range chunk.Vectors {
		data[i] = apitypes.EmbeddingItem{Index: i, Embedding: v}
	}
	c.JSON(http.StatusOK, apitypes.EmbeddingResponse{Object: "list", Model: chunk.Model, Data: data})
}
