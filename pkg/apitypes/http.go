// Package apitypes carries the HTTP wire-format request/response types for
// every capability route, generalizing the teacher's single
// completion-only request/response pair to all five capabilities while
// keeping its OpenAI-compatible shape and error envelope.
package apitypes

import "time"

// CompletionRequest is the wire shape for /v1/completions and
// /v1/chat/completions.
type CompletionRequest struct {
	Model            string         `json:"model,omitempty" example:"llama-2-7b-chat"`
	Prompt           string         `json:"prompt" binding:"required" example:"What is the meaning of life?"`
	MaxTokens        int            `json:"max_tokens,omitempty" example:"150"`
	Temperature      float32        `json:"temperature,omitempty" example:"0.7"`
	TopP             float32        `json:"top_p,omitempty" example:"0.9"`
	TopK             int            `json:"top_k,omitempty" example:"40"`
	RepeatPenalty    float32        `json:"repeat_penalty,omitempty" example:"1.1"`
	Seed             int            `json:"seed,omitempty" example:"42"`
	N                int            `json:"n,omitempty" example:"1"`
	Stream           bool           `json:"stream,omitempty" example:"false"`
	Stop             []string       `json:"stop,omitempty"`
	AdditionalParams map[string]any `json:"additional_params,omitempty"`
}

// CompletionResponse is the non-streaming wire response for a completion.
type CompletionResponse struct {
	ID      string   `json:"id" example:"cmpl-123456"`
	Object  string   `json:"object" example:"text_completion"`
	Created int64    `json:"created" example:"1677649420"`
	Model   string   `json:"model" example:"llama-2-7b-chat"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completed generation within a CompletionResponse.
type Choice struct {
	Index        int           `json:"index" example:"0"`
	Text         string        `json:"text"`
	FinishReason string        `json:"finish_reason" example:"stop"`
	ToolCalls    []ToolCallOut `json:"tool_calls,omitempty"`
}

// ToolCallOut is the wire shape of a completed tool invocation.
type ToolCallOut struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage carries token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" example:"10"`
	CompletionTokens int `json:"completion_tokens" example:"50"`
	TotalTokens      int `json:"total_tokens" example:"60"`
}

// EmbeddingRequest is the wire shape for /v1/embeddings.
type EmbeddingRequest struct {
	Model string   `json:"model,omitempty" example:"bge-small-en"`
	Input []string `json:"input" binding:"required"`
}

// EmbeddingResponse is the wire shape for a text-embedding result.
type EmbeddingResponse struct {
	Object string          `json:"object" example:"list"`
	Model  string          `json:"model"`
	Data   []EmbeddingItem `json:"data"`
}

// EmbeddingItem is one vector within an EmbeddingResponse.
type EmbeddingItem struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// ImageEmbeddingRequest is the wire shape for /v1/images/embeddings.
type ImageEmbeddingRequest struct {
	Model string `json:"model,omitempty"`
	Image string `json:"image" binding:"required"` // path, URL, or base64 payload
	// Kind is one of "path", "url", "base64"; defaults to "url".
	Kind string `json:"kind,omitempty" example:"url"`
}

// ImageEmbeddingResponse is the wire shape for an image-embedding result.
type ImageEmbeddingResponse struct {
	Object    string    `json:"object" example:"embedding"`
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding"`
}

// VisionRequest is the wire shape for /v1/vision.
type VisionRequest struct {
	Model string `json:"model,omitempty"`
	Image string `json:"image" binding:"required"`
	Kind  string `json:"kind,omitempty" example:"url"`
	Query string `json:"query" binding:"required"`
}

// ImageGenerationRequest is the wire shape for /v1/images/generations.
type ImageGenerationRequest struct {
	Model          string  `json:"model,omitempty"`
	Prompt         string  `json:"prompt" binding:"required"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width,omitempty" example:"512"`
	Height         int     `json:"height,omitempty" example:"512"`
	Steps          int     `json:"steps,omitempty" example:"20"`
	GuidanceScale  float32 `json:"guidance_scale,omitempty" example:"7.5"`
	Seed           int     `json:"seed,omitempty"`
	UseFlashAttn   bool    `json:"use_flash_attn,omitempty"`
	Device         string  `json:"device,omitempty" example:"cpu"`
}

// ImageGenerationResponse is the non-streaming wire response for a
// completed image generation.
type ImageGenerationResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// ImageData is one generated image within an ImageGenerationResponse,
// delivered as raw float32 pixel data plus its shape (no PNG/JPEG
// encoding — that belongs to an external media-handling collaborator).
type ImageData struct {
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Channels int       `json:"channels"`
	Pixels   []float32 `json:"pixels"`
}

// ErrorResponse is the shared error envelope across every route.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries one structured error.
type ErrorDetail struct {
	Message string `json:"message" example:"Invalid request"`
	Type    string `json:"type" example:"invalid_request_error"`
	Code    string `json:"code,omitempty" example:"400"`
}

// APIError is a Go error carrying the same fields as ErrorDetail, so
// handlers can build one error value and use it both ways.
type APIError struct {
	Message string
	Type    string
	Code    string
}

func (e *APIError) Error() string { return e.Message }

// NewAPIError constructs an APIError.
func NewAPIError(message, errType, code string) *APIError {
	return &APIError{Message: message, Type: errType, Code: code}
}

// HealthResponse is the wire shape for /health, /ready, and /live.
type HealthResponse struct {
	Status    string                `json:"status" example:"healthy"`
	Timestamp time.Time             `json:"timestamp"`
	Version   string                `json:"version"`
	Pools     map[string]PoolHealth `json:"pools"`
}

// PoolHealth reports one capability pool's live state.
type PoolHealth struct {
	WorkerCount         int   `json:"worker_count"`
	ReservedMemoryMB    int64 `json:"reserved_memory_mb"`
	SystemMemoryLimitMB int64 `json:"system_memory_limit_mb"`
	ShuttingDown        bool  `json:"shutting_down"`
}

// ModelListResponse is the wire shape for GET /v1/models.
type ModelListResponse struct {
	Object string      `json:"object" example:"list"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo describes one registered model for the models-listing route.
type ModelInfo struct {
	ID           string `json:"id"`
	Capability   string `json:"capability"`
	Provider     string `json:"provider"`
	Quantization string `json:"quantization,omitempty"`
}
