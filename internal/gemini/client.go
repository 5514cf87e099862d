// Package gemini はGemini generateContent REST APIを呼び出してキャプションを生成するクライアントを提供する。
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/captionly/internal/security"
)

const (
	// DefaultBaseURL はGemini APIの既定エンドポイント。
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel は既定のモデル名。
	DefaultModel = "gemini-2.5-flash"
	// DefaultTimeout は既定のリクエストタイムアウト。
	DefaultTimeout = 30 * time.Second

	// CaptionCount は返却するキャプション数。
	CaptionCount = 3
	// MinHashtags は受け入れるハッシュタグの最小数。
	MinHashtags = 5
	// MaxHashtags は返却するハッシュタグの最大数。
	MaxHashtags = 8

	// maxResponseSize はレスポンスボディの最大読み取りサイズ。
	maxResponseSize = 1 << 20
)

// ErrMissingAPIKey はAPIキー未設定の場合に返される。
var ErrMissingAPIKey = errors.New("gemini: api key is required")

// Options はClientの設定。
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// HTTPClient が未指定の場合はsafeurlで保護されたクライアントを使用する。
	HTTPClient *http.Client
}

// Client はGemini APIクライアント。
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Captions は生成されたキャプションとハッシュタグ。
type Captions struct {
	Captions []string `json:"captions"`
	Hashtags []string `json:"hashtags"`
}

// NewClient は新しいClientを生成する。
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := opts.HTTPClient
	if client == nil {
		guard := security.NewEgressGuard()
		if err := guard.ValidateURL(baseURL); err != nil {
			return nil, fmt.Errorf("gemini: invalid base url: %w", err)
		}
		client = guard.NewSafeClient(timeout)
	}

	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: client,
	}, nil
}

// Model は設定されたモデル名を返す。
func (c *Client) Model() string {
	return c.model
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP"`
	ResponseMimeType string  `json:"responseMimeType"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
}

type schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*schema `json:"properties,omitempty"`
	Items       *schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// captionSchema はレスポンスのJSONスキーマ。
var captionSchema = &schema{
	Type: "OBJECT",
	Properties: map[string]*schema{
		"captions": {
			Type:        "ARRAY",
			Description: "3 unique, platform-tailored captions with natural emojis, each 10-25 words long.",
			Items:       &schema{Type: "STRING"},
		},
		"hashtags": {
			Type:        "ARRAY",
			Description: "5-8 relevant hashtags for the topic.",
			Items:       &schema{Type: "STRING"},
		},
	},
	Required: []string{"captions", "hashtags"},
}

// GenerateCaptions はトピック・トーン・プラットフォームからキャプションを生成する。
// リトライは行わない。
func (c *Client) GenerateCaptions(ctx context.Context, topic, tone, platform string) (Captions, error) {
	payload := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: buildPrompt(topic, tone, platform)}},
		}},
		GenerationConfig: &generationConfig{
			Temperature:      0.7,
			TopP:             0.95,
			ResponseMimeType: "application/json",
			ResponseSchema:   captionSchema,
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return Captions{}, fmt.Errorf("gemini: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), &buf)
	if err != nil {
		return Captions{}, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Captions{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Captions{}, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return Captions{}, fmt.Errorf("gemini: status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return Captions{}, fmt.Errorf("gemini: status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Captions{}, fmt.Errorf("gemini: decode response: %w", err)
	}

	text := extractText(out)
	if text == "" {
		return Captions{}, errors.New("gemini: empty response")
	}

	return parseCaptions(text)
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
}

func buildPrompt(topic, tone, platform string) string {
	sb := &strings.Builder{}
	sb.WriteString("System: You are Captionly AI, an expert social media copywriter. Output valid JSON only, adhering to the provided schema.\n")
	sb.WriteString("User: Generate captions and hashtags for the following request.\n")
	sb.WriteString("Request Details:\n")
	fmt.Fprintf(sb, "- Topic: %q\n", topic)
	fmt.Fprintf(sb, "- Tone: %q\n", tone)
	fmt.Fprintf(sb, "- Platform: %q\n", platform)
	sb.WriteString("\nConstraints:\n")
	sb.WriteString("- Provide exactly 3 unique captions.\n")
	sb.WriteString("- Each caption should be between 10 and 25 words.\n")
	sb.WriteString("- Tailor the captions for the specified platform.\n")
	sb.WriteString("- Include natural-looking emojis.\n")
	sb.WriteString("- Provide between 5 and 8 relevant hashtags.\n")
	sb.WriteString("- Do not include any extra commentary, text, or markdown formatting like ```json.\n")
	return sb.String()
}

func extractText(resp generateResponse) string {
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return p.Text
			}
		}
	}
	return ""
}

// parseCaptions はモデル出力のJSONを検証してCaptionsに変換する。
func parseCaptions(raw string) (Captions, error) {
	var decoded struct {
		Captions []string `json:"captions"`
		Hashtags []string `json:"hashtags"`
	}
	if err := json.Unmarshal([]byte(trimCodeFence(raw)), &decoded); err != nil {
		return Captions{}, fmt.Errorf("gemini: parse payload: %w", err)
	}

	captions := nonEmpty(decoded.Captions)
	hashtags := nonEmpty(decoded.Hashtags)
	if len(captions) == 0 || len(hashtags) == 0 {
		return Captions{}, errors.New("gemini: response is missing captions or hashtags")
	}
	if len(captions) < CaptionCount {
		return Captions{}, fmt.Errorf("gemini: expected %d captions, got %d", CaptionCount, len(captions))
	}
	if len(hashtags) < MinHashtags {
		return Captions{}, fmt.Errorf("gemini: expected at least %d hashtags, got %d", MinHashtags, len(hashtags))
	}
	if len(hashtags) > MaxHashtags {
		hashtags = hashtags[:MaxHashtags]
	}

	return Captions{
		Captions: captions[:CaptionCount],
		Hashtags: hashtags,
	}, nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
