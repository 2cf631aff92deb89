// Package describe turns reference images into a textual description using a
// vision-capable language model. It backs the first stage of the
// describe-then-generate pipeline.
package describe

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"genstudio/internal/domain"
)

// Request asks for a description of the given images.
type Request struct {
	Instruction string
	ImageURIs   []string
	Locale      string
}

// Usage reports token consumption of one description call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the outcome of a single description round-trip.
type Result struct {
	Text     string
	Usage    Usage
	Provider string
	Model    string
}

// Describer is a single round-trip description provider.
type Describer interface {
	Describe(ctx context.Context, req Request) (*Result, error)
}

const maxImageBytes = 20 << 20

func instructionFor(req Request) string {
	text := strings.TrimSpace(req.Instruction)
	if loc := strings.TrimSpace(req.Locale); loc != "" && loc != "en" {
		text += "\nAnswer in English regardless of the interface language (" + loc + ")."
	}
	return text
}

// fetchImage loads image bytes from a data URL or an http(s) URL.
func fetchImage(ctx context.Context, client *http.Client, uri string) ([]byte, string, error) {
	uri = strings.TrimSpace(uri)
	if strings.HasPrefix(uri, "data:") {
		meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, "", &domain.ValidationError{Field: "references", Reason: "unsupported data url"}
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", &domain.ValidationError{Field: "references", Reason: "invalid base64 image"}
		}
		return data, strings.TrimSuffix(meta, ";base64"), nil
	}
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return nil, "", &domain.ValidationError{Field: "references", Reason: fmt.Sprintf("unsupported image uri %q", uri)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("describe: build image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("describe: fetch image: %w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("describe: fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("describe: read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("describe: image exceeds %d bytes", maxImageBytes)
	}
	mime := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !strings.HasPrefix(mime, "image/") {
		mime = strings.Split(http.DetectContentType(data), ";")[0]
	}
	return data, mime, nil
}

func resolveKey(ctx context.Context, static string, creds domain.CredentialSource, kind string) (string, error) {
	if key := strings.TrimSpace(static); key != "" {
		return key, nil
	}
	if creds != nil {
		key, err := creds.Key(ctx, kind)
		if err != nil {
			return "", fmt.Errorf("describe: resolve %s key: %w", kind, err)
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("describe: %w: %s api key is not configured", domain.ErrAuth, kind)
}
