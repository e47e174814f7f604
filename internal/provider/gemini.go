package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"
)

const geminiValidationModel = "gemini-2.0-flash"

// GeminiService translates through the Google Gemini API.
type GeminiService struct {
	breaker *gobreaker.CircuitBreaker
}

func NewGeminiService() *GeminiService {
	return &GeminiService{breaker: newBreaker("gemini")}
}

func (s *GeminiService) newClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewError(CategoryAuthentication, fmt.Sprintf("create gemini client: %v", err), err)
	}
	return client, nil
}

func (s *GeminiService) generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buildSystemPrompt(req), genai.RoleUser),
		Temperature:       genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

func (s *GeminiService) Translate(ctx context.Context, req Request, apiKey string) (*Response, error) {
	client, err := s.newClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(joinUnits(req.Texts)), s.generateConfig(req))
		if err != nil {
			return nil, categorizeGeminiError(err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, breakerError(err)
	}
	resp := result.(*genai.GenerateContentResponse)

	translations, err := splitUnits(resp.Text(), len(req.Texts))
	if err != nil {
		return nil, NewError(CategoryInvalidRequest, err.Error(), err)
	}

	tokensUsed := estimateTokens(req)
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &Response{
		Translations: translations,
		TokensUsed:   tokensUsed,
		Model:        req.Model,
	}, nil
}

func (s *GeminiService) TranslateStreaming(ctx context.Context, req Request, apiKey string, onDelta StreamHandler) (*Response, error) {
	client, err := s.newClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for chunk, err := range client.Models.GenerateContentStream(ctx, req.Model, genai.Text(joinUnits(req.Texts)), s.generateConfig(req)) {
		if err != nil {
			return nil, categorizeGeminiError(err)
		}
		delta := chunk.Text()
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

func (s *GeminiService) EstimateTokens(req Request) int {
	return estimateTokens(req)
}

func (s *GeminiService) ValidateAPIKey(ctx context.Context, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return NewError(CategoryAuthentication, "api key is empty", nil)
	}
	client, err := s.newClient(ctx, apiKey)
	if err != nil {
		return err
	}
	// CountTokens is free and fails fast on a bad key.
	if _, err := client.Models.CountTokens(ctx, geminiValidationModel, genai.Text("ping"), nil); err != nil {
		return categorizeGeminiError(err)
	}
	return nil
}

func categorizeGeminiError(err error) *Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return NewError(categorizeHTTPStatus(apiErr.Code), apiErr.Message, err)
	}
	if cat := categorizeTransport(err); cat != CategoryUnknown {
		return NewError(cat, err.Error(), err)
	}
	return NewError(CategoryUnknown, fmt.Sprintf("provider call failed: %v", err), err)
}
