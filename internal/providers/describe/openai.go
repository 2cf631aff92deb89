package describe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"genstudio/internal/domain"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIOptions configures the OpenAI describer.
type OpenAIOptions struct {
	APIKey      string
	Credentials domain.CredentialSource
	Model       string
	BaseURL     string
	HTTPClient  *http.Client
	// InlineImages sends images as data URLs instead of letting the API fetch them.
	InlineImages bool
}

// OpenAI describes images with the chat completions vision API.
type OpenAI struct {
	apiKey       string
	credentials  domain.CredentialSource
	model        string
	baseURL      string
	httpClient   *http.Client
	inlineImages bool
}

func NewOpenAI(opts OpenAIOptions) *OpenAI {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		apiKey:       opts.APIKey,
		credentials:  opts.Credentials,
		model:        model,
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient:   client,
		inlineImages: opts.InlineImages,
	}
}

func (o *OpenAI) Describe(ctx context.Context, req Request) (*Result, error) {
	if len(req.ImageURIs) == 0 {
		return nil, &domain.ValidationError{Field: "references", Reason: "at least one image is required"}
	}
	key, err := resolveKey(ctx, o.apiKey, o.credentials, domain.CredentialOpenAI)
	if err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(key)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	cfg.HTTPClient = o.httpClient
	client := openai.NewClientWithConfig(cfg)

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: instructionFor(req)}}
	for _, uri := range req.ImageURIs {
		url := strings.TrimSpace(uri)
		if o.inlineImages && !strings.HasPrefix(url, "data:") {
			data, mime, err := fetchImage(ctx, o.httpClient, url)
			if err != nil {
				return nil, err
			}
			url = fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
		})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("describe: openai: %w: %w", domain.ErrAuth, err)
		}
		return nil, fmt.Errorf("describe: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("describe: openai: no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, errors.New("describe: openai: empty description")
	}
	return &Result{
		Text: text,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Provider: "openai",
		Model:    o.model,
	}, nil
}
