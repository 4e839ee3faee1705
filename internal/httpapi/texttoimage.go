package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bhangun/wayang-inference/internal/capability/texttoimage"
	"github.com/bhangun/wayang-inference/pkg/apitypes"
)

func (s *Server) imageGenerationHandler(c *gin.Context) {
	var req apitypes.ImageGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid request body: "+err.Error(), "invalid_request_error", "400"))
		return
	}

	model, err := pickModel(s.models.TextToImage, req.Model)
	if err != nil {
		writeErrorChunk(c, err)
		return
	}

	cfg := texttoimage.Config{
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		UseFlashAttn:   req.UseFlashAttn,
	}
	if cfg.Width == 0 {
		cfg.Width = 512
	}
	if cfg.Height == 0 {
		cfg.Height = 512
	}
	if cfg.Steps == 0 {
		cfg.Steps = 20
	}

	st := model.Generate(req.Prompt, cfg, req.Device)
	img, apiErr := collectImage(c, st)
	if apiErr != nil {
		writeErrorChunk(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, apitypes.ImageGenerationResponse{
		Created: time.Now().Unix(),
		Data: []apitypes.ImageData{
			{Width: img.Width, Height: img.Height, Channels: img.Channels, Pixels: img.Data},
		},
	})
}

// collectImage drains a generation request's step chunks, discarding
// progress events, down to the terminal tensor. Step progress is not
// exposed over this route or any other HTTP route.
func collectImage(c *gin.Context, st *texttoimage.ChunkStream) (texttoimage.Tensor, error) {
	ctx := c.Request.Context()
	for {
		chunk, ok := st.Next(ctx)
		if !ok {
			return texttoimage.Tensor{}, errNoResult
		}
		switch chunk.Kind {
		case texttoimage.KindError:
			return texttoimage.Tensor{}, chunk.Err
		case texttoimage.KindComplete:
			return chunk.Image, nil
		}
	}
}
