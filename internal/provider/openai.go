package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// OpenAIService translates through any OpenAI-compatible chat-completion API
// (OpenAI, OpenRouter, compatible gateways).
type OpenAIService struct {
	baseURL string
	breaker *gobreaker.CircuitBreaker
}

func NewOpenAIService(baseURL string) *OpenAIService {
	return &OpenAIService{
		baseURL: baseURL,
		breaker: newBreaker("openai"),
	}
}

func (s *OpenAIService) client(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (s *OpenAIService) Translate(ctx context.Context, req Request, apiKey string) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: joinUnits(req.Texts)},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.client(apiKey).CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, categorizeOpenAIError(err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, breakerError(err)
	}

	resp := result.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return nil, NewError(CategoryServer, "no choices in completion response", nil)
	}

	translations, err := splitUnits(resp.Choices[0].Message.Content, len(req.Texts))
	if err != nil {
		return nil, NewError(CategoryInvalidRequest, err.Error(), err)
	}

	return &Response{
		Translations: translations,
		TokensUsed:   resp.Usage.TotalTokens,
		Model:        resp.Model,
	}, nil
}

func (s *OpenAIService) TranslateStreaming(ctx context.Context, req Request, apiKey string, onDelta StreamHandler) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: joinUnits(req.Texts)},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	stream, err := s.client(apiKey).CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, categorizeOpenAIError(err)
	}
	defer stream.Close()

	var content strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, categorizeOpenAIError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	translations, err := splitUnits(content.String(), len(req.Texts))
	if err != nil {
		return nil, NewError(CategoryInvalidRequest, err.Error(), err)
	}

	return &Response{
		Translations: translations,
		TokensUsed:   estimateTokens(req),
		Model:        req.Model,
	}, nil
}

func (s *OpenAIService) EstimateTokens(req Request) int {
	return estimateTokens(req)
}

func (s *OpenAIService) ValidateAPIKey(ctx context.Context, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return NewError(CategoryAuthentication, "api key is empty", nil)
	}
	if _, err := s.client(apiKey).ListModels(ctx); err != nil {
		return categorizeOpenAIError(err)
	}
	return nil
}

func categorizeOpenAIError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr := NewError(categorizeHTTPStatus(apiErr.HTTPStatusCode), apiErr.Message, err)
		if perr.Category == CategoryRateLimited {
			// The SDK does not surface Retry-After; fall back to a fixed hint.
			perr.RetryAfter = 30 * time.Second
		}
		return perr
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewError(categorizeHTTPStatus(reqErr.HTTPStatusCode), reqErr.Error(), err)
	}
	if cat := categorizeTransport(err); cat != CategoryUnknown {
		return NewError(cat, err.Error(), err)
	}
	return NewError(CategoryUnknown, fmt.Sprintf("provider call failed: %v", err), err)
}
