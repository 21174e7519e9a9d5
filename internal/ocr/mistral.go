package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type mistralPage struct {
	Index    int    `json:"index"`    // 0-indexed
	Markdown string `json:"markdown"` // extracted markdown
}

type mistralResponse struct {
	Pages []mistralPage `json:"pages"`
}

// Mistral sends each page image to the Mistral OCR API.
type Mistral struct {
	APIKey  string
	Model   string
	BaseURL string // default https://api.mistral.ai
	Client  *http.Client
}

func (m *Mistral) Name() string { return "mistral" }

func (m *Mistral) Recognize(ctx context.Context, png []byte) (string, error) {
	if m.APIKey == "" {
		return "", fmt.Errorf("missing MISTRAL_API_KEY")
	}
	model := m.Model
	if model == "" {
		model = "mistral-ocr-latest"
	}
	base := m.BaseURL
	if base == "" {
		base = "https://api.mistral.ai"
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}

	body := map[string]any{
		"model": model,
		"document": map[string]any{
			"type":      "image_url",
			"image_url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/ocr", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", fmt.Errorf("mistral ocr error %d: %s", resp.StatusCode, string(slurp))
	}

	var parsed mistralResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode mistral response: %w", err)
	}

	// An image yields one page in practice; join defensively.
	parts := make([]string, 0, len(parsed.Pages))
	for _, p := range parsed.Pages {
		md := strings.TrimSpace(p.Markdown)
		if md == "" || md == "." {
			continue
		}
		parts = append(parts, md)
	}
	return Clean(strings.Join(parts, "\n\n")), nil
}
