// Package llamacpp implements the text-to-text Loaded interface on top of
// go-llama.cpp, the same cgo binding the teacher server used directly. The
// per-request bookkeeping (default sampling params, token callback wiring,
// stop-word handling) is carried over from the non-streaming and streaming
// engine methods alike; what changes is the destination of each token —
// here it is a capability chunk sent into the pool's stream sink instead
// of a bespoke StreamToken channel.
package llamacpp

import (
	"context"
	"fmt"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"github.com/bhangun/wayang-inference/internal/capability/texttotext"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
)

// Loaded wraps one warm llama.cpp context. A Loaded instance is bound to
// exactly one worker goroutine for its whole lifetime, so Predict calls
// are never concurrent and need no internal locking.
type Loaded struct {
	llm  *llama.LLama
	name string
}

// Load opens the model at d.ModelPath with the context size the
// descriptor's modality metadata carries. Flash attention is not enabled:
// the descriptor's FlashAttention flag turns on memory-mapped loading.
func Load(ctx context.Context, d *descriptor.Descriptor) (texttotext.Loaded, error) {
	contextSize := d.Modality.MaxInputTokens + d.Modality.MaxOutputTokens
	if contextSize <= 0 {
		contextSize = 2048
	}

	opts := []llama.ModelOption{
		llama.SetContext(contextSize),
		llama.EnableF16Memory,
	}
	if d.Capabilities.FlashAttention {
		opts = append(opts, llama.EnableMMap)
	}

	llm, err := llama.New(d.ModelPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: load %s: %w", d.ModelPath, err)
	}
	return &Loaded{llm: llm, name: d.Name}, nil
}

// Infer runs Params.N completions (1 if unset) one after another — the
// model context is owned by this single worker goroutine, so samples
// cannot run concurrently — streaming each generated token as a fragment
// chunk tagged with its sample index via the token callback llama.cpp
// invokes synchronously during Predict, then emits a terminal complete
// chunk for that sample once its Predict call returns. When the caller
// sets a positive seed, each sample's seed is offset by its index so N>1
// doesn't just repeat one sample verbatim; without one, no seed option is
// passed to Predict.
func (l *Loaded) Infer(ctx context.Context, req texttotext.Request, sink stream.Sender[texttotext.Chunk]) {
	p := req.Params

	samples := p.N
	if samples <= 0 {
		samples = 1
	}

	for i := 0; i < samples; i++ {
		if !l.predictOne(ctx, req.Prompt, p, i, sink) {
			return
		}
	}
}

// predictOne runs a single completion sample, tagged with index, and
// reports whether the caller should continue on to the next sample (false
// on cancellation — the consumer has already dropped the stream, so
// further Predict calls would be wasted work).
func (l *Loaded) predictOne(ctx context.Context, prompt string, p texttotext.Params, index int, sink stream.Sender[texttotext.Chunk]) bool {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 150
	}
	temperature := p.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	topP := p.TopP
	if topP <= 0 {
		topP = 0.9
	}
	topK := p.TopK
	if topK <= 0 {
		topK = 40
	}
	repeatPenalty := p.RepeatPenalty
	if repeatPenalty <= 0 {
		repeatPenalty = 1.1
	}

	cancelled := false
	tokenCallback := func(token string) bool {
		select {
		case <-ctx.Done():
			cancelled = true
			return false
		default:
		}
		if !sink.Send(texttotext.FragmentChunkAt(index, token)) {
			cancelled = true
			return false
		}
		return true
	}

	opts := []llama.PredictOption{
		llama.SetTokens(maxTokens),
		llama.SetTemperature(temperature),
		llama.SetTopP(topP),
		llama.SetTopK(topK),
		llama.SetPenalty(repeatPenalty),
		llama.SetTokenCallback(tokenCallback),
	}
	if p.Seed > 0 {
		opts = append(opts, llama.SetSeed(p.Seed+index))
	}
	for _, stop := range p.Stop {
		opts = append(opts, llama.SetStopWords(stop))
	}

	result, err := l.llm.Predict(prompt, opts...)
	if cancelled {
		return false
	}
	if err != nil {
		return sink.Send(texttotext.ErrorChunkAt(index, fmt.Errorf("llamacpp: predict: %w", err)))
	}

	promptTokens := len(strings.Fields(prompt))
	completionTokens := len(strings.Fields(result))
	return sink.Send(texttotext.CompleteChunkAt(index, texttotext.FinishStop, texttotext.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}))
}

// Close frees the underlying llama.cpp context.
func (l *Loaded) Close() error {
	l.llm.Free()
	return nil
}
