package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bhangun/wayang-inference/internal/capability/texttotext"
	"github.com/bhangun/wayang-inference/pkg/apitypes"
)

func (s *Server) completionHandler(c *gin.Context) {
	var req apitypes.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid request body: "+err.Error(), "invalid_request_error", "400"))
		return
	}

	model, err := pickModel(s.models.TextToText, req.Model)
	if err != nil {
		writeErrorChunk(c, err)
		return
	}

	params := texttotext.Params{
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		TopK:             req.TopK,
		RepeatPenalty:    req.RepeatPenalty,
		Seed:             req.Seed,
		N:                req.N,
		Stop:             req.Stop,
		Stream:           req.Stream,
		AdditionalParams: req.AdditionalParams,
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = 150
	}

	st := model.Prompt(req.Prompt, params)

	if req.Stream {
		streamSSE(c, st, texttotextToEvent)
		return
	}

	resp, apiErr := collectCompletion(c, st, model.Descriptor.Name)
	if apiErr != nil {
		writeErrorChunk(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// texttotextToEvent maps one chunk to an SSE event. With Params.N > 1 the
// stream interleaves several sample indices; terminal=true only once
// every sample has reached its own KindComplete would require tracking
// state the event mapper doesn't have, so each sample's own KindComplete
// is forwarded as a regular (non-terminal) event and the stream's natural
// end (Stream.Next returning ok=false) closes the SSE response — see
// streamSSE.
func texttotextToEvent(chunk texttotext.Chunk) sseEvent {
	switch chunk.Kind {
	case texttotext.KindError:
		return sseEvent{err: chunk.Err}
	case texttotext.KindComplete:
		return sseEvent{data: apitypes.Choice{Index: chunk.Index, FinishReason: string(chunk.FinishReason)}}
	case texttotext.KindToolCallPartial, texttotext.KindToolCallComplete:
		return sseEvent{data: apitypes.ToolCallOut{ID: chunk.ToolCall.ID, Name: chunk.ToolCall.Name, Arguments: chunk.ToolCall.Arguments}}
	default:
		return sseEvent{data: apitypes.Choice{Index: chunk.Index, Text: chunk.Fragment}}
	}
}

// completionAccumulator collects the fragments of one sample index into a
// single Choice, keyed by the sample's position of first appearance so
// Choices comes out in a stable, predictable order regardless of how the
// loader interleaves indices.
type completionAccumulator struct {
	choice apitypes.Choice
	usage  apitypes.Usage
}

// collectCompletion drains a non-streaming request's chunk stream into a
// CompletionResponse with one Choice per Params.N sample, surfacing the
// first error chunk as a Go error instead.
func collectCompletion(c *gin.Context, st *texttotext.ChunkStream, modelName string) (*apitypes.CompletionResponse, error) {
	ctx := c.Request.Context()
	order := make([]int, 0, 1)
	byIndex := make(map[int]*completionAccumulator)

	accumulator := func(index int) *completionAccumulator {
		acc, ok := byIndex[index]
		if !ok {
			acc = &completionAccumulator{choice: apitypes.Choice{Index: index}}
			byIndex[index] = acc
			order = append(order, index)
		}
		return acc
	}

	for {
		chunk, ok := st.Next(ctx)
		if !ok {
			break
		}
		switch chunk.Kind {
		case texttotext.KindError:
			return nil, chunk.Err
		case texttotext.KindFragment:
			acc := accumulator(chunk.Index)
			acc.choice.Text += chunk.Fragment
		case texttotext.KindComplete:
			acc := accumulator(chunk.Index)
			acc.choice.FinishReason = string(chunk.FinishReason)
			acc.usage = apitypes.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}

	choices := make([]apitypes.Choice, 0, len(order))
	var usage apitypes.Usage
	for _, idx := range order {
		acc := byIndex[idx]
		choices = append(choices, acc.choice)
		usage.PromptTokens += acc.usage.PromptTokens
		usage.CompletionTokens += acc.usage.CompletionTokens
		usage.TotalTokens += acc.usage.TotalTokens
	}

	return &apitypes.CompletionResponse{
		ID:      "cmpl-" + uuid.NewString(),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: choices,
		Usage:   usage,
	}, nil
}
