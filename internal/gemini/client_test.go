package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// candidateBody はモデル出力テキストを含むgenerateContentレスポンスを生成する。
func candidateBody(t *testing.T, text string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func newTestClient(t *testing.T, fn roundTripFunc) *Client {
	t.Helper()
	c, err := NewClient(Options{
		APIKey:     "test-key",
		HTTPClient: &http.Client{Transport: fn},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

const validPayload = `{"captions":["One fresh caption for you today friends 🌿","Two","Three","Four"],"hashtags":["#a","#b","#c","#d","#e","#f","#g","#h","#i"]}`

func TestNewClient_RequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Options{APIKey: "  "}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Options{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Model() != DefaultModel {
		t.Errorf("Model = %q, want %q", c.Model(), DefaultModel)
	}
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
}

func TestNewClient_RejectsUnsafeBaseURLWithDefaultClient(t *testing.T) {
	if _, err := NewClient(Options{APIKey: "k", BaseURL: "http://127.0.0.1:8080"}); err == nil {
		t.Fatal("expected error for loopback base url")
	}
}

func TestGenerateCaptions_RequestShape(t *testing.T) {
	var captured *http.Request
	var body map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		captured = r
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(http.StatusOK, candidateBody(t, validPayload)), nil
	})

	_, err := c.GenerateCaptions(context.Background(), "Launching eco-friendly skincare", "Casual", "Instagram")
	if err != nil {
		t.Fatalf("GenerateCaptions: %v", err)
	}

	if captured.Method != http.MethodPost {
		t.Errorf("method = %s", captured.Method)
	}
	wantPath := "/v1beta/models/gemini-2.5-flash:generateContent"
	if captured.URL.Path != wantPath {
		t.Errorf("path = %q, want %q", captured.URL.Path, wantPath)
	}
	if captured.URL.RawQuery != "" {
		t.Errorf("api key must not be sent in query: %q", captured.URL.RawQuery)
	}
	if got := captured.Header.Get("x-goog-api-key"); got != "test-key" {
		t.Errorf("x-goog-api-key = %q", got)
	}

	cfg := body["generationConfig"].(map[string]any)
	if cfg["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", cfg["responseMimeType"])
	}
	if cfg["temperature"] != 0.7 || cfg["topP"] != 0.95 {
		t.Errorf("temperature/topP = %v/%v", cfg["temperature"], cfg["topP"])
	}
	schema := cfg["responseSchema"].(map[string]any)
	if req, _ := schema["required"].([]any); len(req) != 2 {
		t.Errorf("required = %v", schema["required"])
	}

	prompt := body["contents"].([]any)[0].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"].(string)
	for _, want := range []string{`"Launching eco-friendly skincare"`, `"Casual"`, `"Instagram"`, "exactly 3 unique captions"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateCaptions_TruncatesExtras(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, candidateBody(t, validPayload)), nil
	})

	got, err := c.GenerateCaptions(context.Background(), "topic", "Casual", "Instagram")
	if err != nil {
		t.Fatalf("GenerateCaptions: %v", err)
	}
	if len(got.Captions) != CaptionCount {
		t.Errorf("captions = %d, want %d", len(got.Captions), CaptionCount)
	}
	if len(got.Hashtags) != MaxHashtags {
		t.Errorf("hashtags = %d, want %d", len(got.Hashtags), MaxHashtags)
	}
}

func TestGenerateCaptions_TrimsCodeFence(t *testing.T) {
	fenced := "```json\n" + validPayload + "\n```"
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, candidateBody(t, fenced)), nil
	})

	got, err := c.GenerateCaptions(context.Background(), "topic", "Casual", "Instagram")
	if err != nil {
		t.Fatalf("GenerateCaptions: %v", err)
	}
	if got.Hashtags[0] != "#a" {
		t.Errorf("hashtags[0] = %q", got.Hashtags[0])
	}
}

func TestGenerateCaptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp func(t *testing.T) (*http.Response, error)
	}{
		{"transport error", func(t *testing.T) (*http.Response, error) {
			return nil, errors.New("dial failed")
		}},
		{"non-2xx status", func(t *testing.T) (*http.Response, error) {
			return jsonResponse(http.StatusServiceUnavailable, `{"error":{"code":503,"message":"overloaded"}}`), nil
		}},
		{"no candidates", func(t *testing.T) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"candidates":[]}`), nil
		}},
		{"invalid json text", func(t *testing.T) (*http.Response, error) {
			return jsonResponse(http.StatusOK, candidateBody(t, "not json")), nil
		}},
		{"missing hashtags", func(t *testing.T) (*http.Response, error) {
			return jsonResponse(http.StatusOK, candidateBody(t, `{"captions":["a","b","c"]}`)), nil
		}},
		{"too few captions", func(t *testing.T) (*http.Response, error) {
			return jsonResponse(http.StatusOK, candidateBody(t, `{"captions":["a","b"],"hashtags":["#1","#2","#3","#4","#5"]}`)), nil
		}},
		{"too few hashtags", func(t *testing.T) (*http.Response, error) {
			return jsonResponse(http.StatusOK, candidateBody(t, `{"captions":["a","b","c"],"hashtags":["#1","#2"]}`)), nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
				return tt.resp(t)
			})
			if _, err := c.GenerateCaptions(context.Background(), "topic", "Casual", "Instagram"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
