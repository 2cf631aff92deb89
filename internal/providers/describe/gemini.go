package describe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"genstudio/internal/domain"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiOptions configures the Gemini describer.
type GeminiOptions struct {
	APIKey      string
	Credentials domain.CredentialSource
	Model       string
	HTTPClient  *http.Client
}

type generativeModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Gemini describes images with the Gemini generative API.
type Gemini struct {
	apiKey      string
	credentials domain.CredentialSource
	model       string
	httpClient  *http.Client
	// newModel opens a model handle for one call; the returned func releases it.
	newModel func(ctx context.Context, key, model string) (generativeModel, func(), error)
}

func NewGemini(opts GeminiOptions) *Gemini {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{
		apiKey:      opts.APIKey,
		credentials: opts.Credentials,
		model:       model,
		httpClient:  client,
		newModel:    openGeminiModel,
	}
}

func openGeminiModel(ctx context.Context, key, model string) (generativeModel, func(), error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, nil, fmt.Errorf("describe: gemini client: %w", err)
	}
	return client.GenerativeModel(model), func() { _ = client.Close() }, nil
}

func (g *Gemini) Describe(ctx context.Context, req Request) (*Result, error) {
	if len(req.ImageURIs) == 0 {
		return nil, &domain.ValidationError{Field: "references", Reason: "at least one image is required"}
	}
	key, err := resolveKey(ctx, g.apiKey, g.credentials, domain.CredentialGemini)
	if err != nil {
		return nil, err
	}

	parts := make([]genai.Part, 0, len(req.ImageURIs)+1)
	for _, uri := range req.ImageURIs {
		data, mime, err := fetchImage(ctx, g.httpClient, uri)
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.ImageData(strings.TrimPrefix(mime, "image/"), data))
	}
	parts = append(parts, genai.Text(instructionFor(req)))

	model, release, err := g.newModel(ctx, key, g.model)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("describe: gemini: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, errors.New("describe: gemini: empty description")
	}
	out := &Result{Text: text, Provider: "gemini", Model: g.model}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// New picks a describer by provider name.
func New(provider string, openAI OpenAIOptions, gemini GeminiOptions) (Describer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "openai":
		return NewOpenAI(openAI), nil
	case "gemini":
		return NewGemini(gemini), nil
	default:
		return nil, fmt.Errorf("describe: unsupported provider %q", provider)
	}
}
