// Package bootstrap binds the descriptors a Registry holds to concrete
// model loaders, producing one Model instance per registered model per
// capability. This is the composition root every loader package and
// capability package meets at — nothing downstream needs to know which
// concrete loader backs a given registry key.
package bootstrap

import (
	"github.com/bhangun/wayang-inference/internal/capability/imageembedding"
	"github.com/bhangun/wayang-inference/internal/capability/texttoimage"
	"github.com/bhangun/wayang-inference/internal/capability/texttotext"
	"github.com/bhangun/wayang-inference/internal/capability/textembedding"
	"github.com/bhangun/wayang-inference/internal/capability/vision"

	imagehashembed "github.com/bhangun/wayang-inference/internal/models/imageembedding/hashembed"
	"github.com/bhangun/wayang-inference/internal/models/texttoimage/noise"
	"github.com/bhangun/wayang-inference/internal/models/texttotext/llamacpp"
	texthashembed "github.com/bhangun/wayang-inference/internal/models/textembedding/hashembed"
	"github.com/bhangun/wayang-inference/internal/models/vision/echo"

	"github.com/bhangun/wayang-inference/internal/registry"
)

// Models bundles one registry-key-keyed model map per capability.
type Models struct {
	TextToText     map[string]*texttotext.Model
	TextEmbedding  map[string]*textembedding.Model
	ImageEmbedding map[string]*imageembedding.Model
	Vision         map[string]*vision.Model
	TextToImage    map[string]*texttoimage.Model
}

// Build constructs a Models bundle from every descriptor reg currently
// holds for each capability, one model wrapper per descriptor.
//
// Loader selection is intentionally simple today: llamacpp for every
// text-to-text descriptor, and the deterministic reference loaders for
// the other four capabilities (internal/models/*/*) until a real vision,
// image-embedding, or diffusion backend is wired in. A descriptor whose
// Provider names a loader this function doesn't recognize still binds
// here — to the one loader available for its capability — so a manifest
// typo surfaces as a behavioral mismatch at call time rather than a
// startup failure; tightening that is tracked as an open item, not
// implemented here.
func Build(reg *registry.Registry) (*Models, error) {
	m := &Models{
		TextToText:     make(map[string]*texttotext.Model),
		TextEmbedding:  make(map[string]*textembedding.Model),
		ImageEmbedding: make(map[string]*imageembedding.Model),
		Vision:         make(map[string]*vision.Model),
		TextToImage:    make(map[string]*texttoimage.Model),
	}

	ttDescs, err := reg.Descriptors(registry.CapTextToText)
	if err != nil {
		return nil, err
	}
	for _, d := range ttDescs {
		m.TextToText[d.RegistryKey] = texttotext.NewModel(d, reg.TextToText, llamacpp.Load)
	}

	teDescs, err := reg.Descriptors(registry.CapTextEmbedding)
	if err != nil {
		return nil, err
	}
	for _, d := range teDescs {
		m.TextEmbedding[d.RegistryKey] = textembedding.NewModel(d, reg.TextEmbedding, texthashembed.Load)
	}

	ieDescs, err := reg.Descriptors(registry.CapImageEmbedding)
	if err != nil {
		return nil, err
	}
	for _, d := range ieDescs {
		m.ImageEmbedding[d.RegistryKey] = imageembedding.NewModel(d, reg.ImageEmbedding, imagehashembed.Load)
	}

	visDescs, err := reg.Descriptors(registry.CapVision)
	if err != nil {
		return nil, err
	}
	for _, d := range visDescs {
		m.Vision[d.RegistryKey] = vision.NewModel(d, reg.Vision, echo.Load)
	}

	tiDescs, err := reg.Descriptors(registry.CapTextToImage)
	if err != nil {
		return nil, err
	}
	for _, d := range tiDescs {
		m.TextToImage[d.RegistryKey] = texttoimage.NewModel(d, reg.TextToImage, noise.Load)
	}

	return m, nil
}
