package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bhangun/wayang-inference/internal/registry"
	"github.com/bhangun/wayang-inference/pkg/apitypes"
)

// healthHandler reports one PoolHealth entry per capability, backing
// /health, /ready, and /live alike — this server has no separate
// readiness state beyond "pools exist and are not shutting down".
func (s *Server) healthHandler(c *gin.Context) {
	resp := apitypes.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
		Pools:     map[string]apitypes.PoolHealth{},
	}

	resp.Pools[registry.CapTextToText] = poolHealth(s.registry.TextToText)
	resp.Pools[registry.CapTextEmbedding] = poolHealth(s.registry.TextEmbedding)
	resp.Pools[registry.CapImageEmbedding] = poolHealth(s.registry.ImageEmbedding)
	resp.Pools[registry.CapVision] = poolHealth(s.registry.Vision)
	resp.Pools[registry.CapTextToImage] = poolHealth(s.registry.TextToImage)

	for _, ph := range resp.Pools {
		if ph.ShuttingDown {
			resp.Status = "unhealthy"
		}
	}

	c.JSON(http.StatusOK, resp)
}

// anyPool is the subset of *pool.Pool[Req, Chunk] the health handler
// needs, satisfied identically by every capability's pool instantiation
// regardless of its type parameters.
type anyPool interface {
	TotalMemoryReservedMB() int64
	IsShuttingDown() bool
}

func poolHealth(p anyPool) apitypes.PoolHealth {
	return apitypes.PoolHealth{
		ReservedMemoryMB: p.TotalMemoryReservedMB(),
		ShuttingDown:     p.IsShuttingDown(),
	}
}
