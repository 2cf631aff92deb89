// Package media turns remote generation outputs into locally served files.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog"

	"genstudio/internal/infra"
)

const defaultMaxBytes = 512 << 20

// Store is where resolved media is written.
type Store interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	PublicURL(key string) string
}

// Options configures a Resolver.
type Options struct {
	HTTPClient *http.Client
	// Quality enables WebP re-encoding of PNG and JPEG outputs when positive.
	Quality  int
	MaxBytes int64
	Logger   *infra.Logger
}

// Resolver downloads outputs and stores them under generated/{jobID}/.
type Resolver struct {
	store    Store
	client   *http.Client
	quality  int
	maxBytes int64
	logger   *infra.Logger
}

func NewResolver(store Store, opts Options) *Resolver {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Resolver{store: store, client: client, quality: opts.Quality, maxBytes: maxBytes, logger: logger}
}

// Resolve returns one entry per output. An output that cannot be fetched or
// stored is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, jobID string, outputs []string) []string {
	resolved := make([]string, len(outputs))
	for i, uri := range outputs {
		local, err := r.resolveOne(ctx, jobID, i, uri)
		if err != nil {
			r.logger.Warn().Err(err).Str("job_id", jobID).Str("uri", uri).Msg("media: keeping remote output")
			resolved[i] = uri
			continue
		}
		resolved[i] = local
	}
	return resolved
}

func (r *Resolver) resolveOne(ctx context.Context, jobID string, index int, uri string) (string, error) {
	if r.store == nil {
		return "", errors.New("media: no store configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("media: build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("media: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("media: read body: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return "", fmt.Errorf("media: output exceeds %d bytes", r.maxBytes)
	}

	contentType := sniff(resp.Header.Get("Content-Type"), data)
	ext := extension(contentType, uri)
	if r.quality > 0 && (contentType == "image/png" || contentType == "image/jpeg") {
		encoded, err := ToWebP(data, r.quality)
		if err != nil {
			r.logger.Debug().Err(err).Str("job_id", jobID).Msg("media: webp re-encode skipped")
		} else {
			data, ext = encoded, ".webp"
		}
	}

	key, err := r.store.Write(ctx, fmt.Sprintf("generated/%s/%d%s", jobID, index, ext), data)
	if err != nil {
		return "", err
	}
	return r.store.PublicURL(key), nil
}

// ToWebP re-encodes a PNG or JPEG image as lossy WebP.
func ToWebP(data []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return nil, fmt.Errorf("media: webp options: %w", err)
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("media: webp encode: %w", err)
	}
	return buf.Bytes(), nil
}

func sniff(header string, data []byte) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	if ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream" {
		ct = strings.Split(http.DetectContentType(data), ";")[0]
	}
	return ct
}

var extensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

func extension(contentType, uri string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	p := uri
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if ext := path.Ext(p); ext != "" && len(ext) <= 6 {
		return strings.ToLower(ext)
	}
	return ".bin"
}
