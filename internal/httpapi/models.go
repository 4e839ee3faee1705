package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bhangun/wayang-inference/internal/registry"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/pkg/apitypes"
)

// modelsHandler lists every descriptor (static and runtime-registered)
// across all five capabilities.
func (s *Server) modelsHandler(c *gin.Context) {
	var data []apitypes.ModelInfo
	for _, cap := range []string{
		registry.CapTextToText, registry.CapTextEmbedding, registry.CapImageEmbedding,
		registry.CapVision, registry.CapTextToImage,
	} {
		descs, err := s.registry.Descriptors(cap)
		if err != nil {
			continue
		}
		for _, d := range descs {
			data = append(data, toModelInfo(cap, d))
		}
	}
	c.JSON(http.StatusOK, apitypes.ModelListResponse{Object: "list", Data: data})
}

func toModelInfo(capability string, d *descriptor.Descriptor) apitypes.ModelInfo {
	return apitypes.ModelInfo{
		ID:           d.RegistryKey,
		Capability:   capability,
		Provider:     d.Provider,
		Quantization: d.QuantizationURL,
	}
}

// registerRuntimeModelHandler installs a descriptor into the runtime map
// for the capability named in the path — the mechanism staged-download
// models (e.g. a text-to-image pipeline finishing its weight fetch)
// would use to appear in the registry without a process restart.
//
// The newly registered descriptor is not yet reachable through any
// capability's Model map until bootstrap.Build runs again — wiring a
// runtime-registered descriptor into a live *bootstrap.Models bundle is
// an open item, not implemented here (see DESIGN.md).
func (s *Server) registerRuntimeModelHandler(c *gin.Context) {
	capability := c.Param("capability")

	var d descriptor.Descriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid descriptor: "+err.Error(), "invalid_request_error", "400"))
		return
	}
	if err := s.registry.RegisterRuntime(capability, &d); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_request_error", "400"))
		return
	}
	c.JSON(http.StatusAccepted, toModelInfo(capability, &d))
}
