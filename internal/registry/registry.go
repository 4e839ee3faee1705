// Package registry bundles one worker pool per capability plus the static
// and runtime-registered model descriptor maps every capability wrapper
// looks models up in. A Registry is built explicitly with New; the package
// keeps no process-wide instance.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bhangun/wayang-inference/internal/accountant"
	"github.com/bhangun/wayang-inference/internal/capability/imageembedding"
	"github.com/bhangun/wayang-inference/internal/capability/texttoimage"
	"github.com/bhangun/wayang-inference/internal/capability/texttotext"
	"github.com/bhangun/wayang-inference/internal/capability/textembedding"
	"github.com/bhangun/wayang-inference/internal/capability/vision"
	"github.com/bhangun/wayang-inference/internal/observe"
	"github.com/bhangun/wayang-inference/internal/pool"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/sirupsen/logrus"
)

// Capability name constants, shared between the static manifest schema,
// config.CapabilitiesConfig, and runtime registration calls.
const (
	CapTextToText     = "text_to_text"
	CapTextEmbedding  = "text_embedding"
	CapImageEmbedding = "image_embedding"
	CapVision         = "vision"
	CapTextToImage    = "text_to_image"
)

// Config bundles the ambient pool tunables used to construct every
// capability's pool, mirroring internal/config.PoolConfig without this
// package depending on the config package directly.
type Config struct {
	MaxWorkersPerModel      int
	DrainTimeout            time.Duration
	SpawnWaitTimeout        time.Duration
	SystemMemoryCapFraction float64
	ChannelCapacity         int
}

func (c Config) poolConfig() pool.Config {
	return pool.Config{
		MaxWorkersPerModel: c.MaxWorkersPerModel,
		DrainTimeout:       c.DrainTimeout,
		SpawnWaitTimeout:   c.SpawnWaitTimeout,
		ChannelCapacity:    c.ChannelCapacity,
	}
}

// descriptorSet holds one capability's static (manifest-loaded, fixed at
// process start) and runtime-registered (guarded, mutable) descriptors.
// Mirroring the original registry's split between a build-time map and a
// OnceLock<RwLock<HashMap>> for staged-download models.
type descriptorSet struct {
	static map[string]*descriptor.Descriptor

	mu      sync.RWMutex
	runtime map[string]*descriptor.Descriptor
}

func newDescriptorSet(static []*descriptor.Descriptor) *descriptorSet {
	ds := &descriptorSet{
		static:  make(map[string]*descriptor.Descriptor, len(static)),
		runtime: make(map[string]*descriptor.Descriptor),
	}
	for _, d := range static {
		ds.static[d.RegistryKey] = d
	}
	return ds
}

func (ds *descriptorSet) get(key string) (*descriptor.Descriptor, bool) {
	if d, ok := ds.static[key]; ok {
		return d, true
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	d, ok := ds.runtime[key]
	return d, ok
}

func (ds *descriptorSet) register(d *descriptor.Descriptor) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.runtime[d.RegistryKey] = d
}

func (ds *descriptorSet) list() []*descriptor.Descriptor {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make([]*descriptor.Descriptor, 0, len(ds.static)+len(ds.runtime))
	for _, d := range ds.static {
		out = append(out, d)
	}
	for _, d := range ds.runtime {
		out = append(out, d)
	}
	return out
}

// Registry bundles one pool per capability plus that capability's
// descriptor lookup maps. Constructible per-test rather than relying on
// global state, unlike a package-level singleton.
type Registry struct {
	cfg    Config
	logger *logrus.Logger

	TextToText     *pool.Pool[texttotext.Request, texttotext.Chunk]
	TextEmbedding  *pool.Pool[textembedding.Request, textembedding.Chunk]
	ImageEmbedding *pool.Pool[imageembedding.Request, imageembedding.Chunk]
	Vision         *pool.Pool[vision.Request, vision.Chunk]
	TextToImage    *pool.Pool[texttoimage.Request, texttoimage.Chunk]

	descriptors map[string]*descriptorSet
}

// New constructs a Registry with one fresh Accountant-backed pool per
// capability. byCapability is the output of LoadManifest (or nil/empty to
// start with no static models and rely entirely on runtime registration).
// metrics may be nil, in which case every capability pool records nothing.
func New(cfg Config, logger *logrus.Logger, byCapability map[string][]*descriptor.Descriptor, metrics *observe.Metrics) (*Registry, error) {
	r := &Registry{
		cfg:         cfg,
		logger:      logger,
		descriptors: make(map[string]*descriptorSet, 5),
	}

	for _, cap := range []string{CapTextToText, CapTextEmbedding, CapImageEmbedding, CapVision, CapTextToImage} {
		r.descriptors[cap] = newDescriptorSet(byCapability[cap])
	}

	acct, err := r.newAccountant()
	if err != nil {
		return nil, err
	}
	r.TextToText = pool.New[texttotext.Request, texttotext.Chunk](CapTextToText, cfg.poolConfig(), acct, texttotext.ErrorChunk, logger, metrics)

	acct, err = r.newAccountant()
	if err != nil {
		return nil, err
	}
	r.TextEmbedding = pool.New[textembedding.Request, textembedding.Chunk](CapTextEmbedding, cfg.poolConfig(), acct, textembedding.ErrorChunk, logger, metrics)

	acct, err = r.newAccountant()
	if err != nil {
		return nil, err
	}
	r.ImageEmbedding = pool.New[imageembedding.Request, imageembedding.Chunk](CapImageEmbedding, cfg.poolConfig(), acct, imageembedding.ErrorChunk, logger, metrics)

	acct, err = r.newAccountant()
	if err != nil {
		return nil, err
	}
	r.Vision = pool.New[vision.Request, vision.Chunk](CapVision, cfg.poolConfig(), acct, vision.ErrorChunk, logger, metrics)

	acct, err = r.newAccountant()
	if err != nil {
		return nil, err
	}
	r.TextToImage = pool.New[texttoimage.Request, texttoimage.Chunk](CapTextToImage, cfg.poolConfig(), acct, texttoimage.ErrorChunk, logger, metrics)

	return r, nil
}

func (r *Registry) newAccountant() (*accountant.Accountant, error) {
	return accountant.New(r.cfg.SystemMemoryCapFraction)
}

// Descriptor looks up a model descriptor by registry key within one
// capability's static-then-runtime lookup chain.
func (r *Registry) Descriptor(capability, registryKey string) (*descriptor.Descriptor, error) {
	ds, ok := r.descriptors[capability]
	if !ok {
		return nil, fmt.Errorf("registry: unknown capability %q", capability)
	}
	d, ok := ds.get(registryKey)
	if !ok {
		return nil, fmt.Errorf("registry: no model %q registered for capability %q", registryKey, capability)
	}
	return d, nil
}

// Descriptors lists every descriptor (static and runtime) registered for
// one capability, used by the models listing endpoint.
func (r *Registry) Descriptors(capability string) ([]*descriptor.Descriptor, error) {
	ds, ok := r.descriptors[capability]
	if !ok {
		return nil, fmt.Errorf("registry: unknown capability %q", capability)
	}
	return ds.list(), nil
}

// RegisterRuntime installs a descriptor discovered after process start
// (e.g. a staged image-generation pipeline download completing) into the
// RWMutex-guarded runtime map for capability.
func (r *Registry) RegisterRuntime(capability string, d *descriptor.Descriptor) error {
	ds, ok := r.descriptors[capability]
	if !ok {
		return fmt.Errorf("registry: unknown capability %q", capability)
	}
	ds.register(d)
	return nil
}

// Shutdown drains every capability pool in parallel, each bounded by
// timeout, and returns once all have finished draining or timed out.
func (r *Registry) Shutdown(ctx context.Context, timeout time.Duration) {
	pools := []interface{ BeginShutdown(time.Duration) }{
		r.TextToText, r.TextEmbedding, r.ImageEmbedding, r.Vision, r.TextToImage,
	}
	var wg sync.WaitGroup
	for _, p := range pools {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.BeginShutdown(timeout)
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("registry: shutdown context cancelled before all pools finished draining")
	}
}
