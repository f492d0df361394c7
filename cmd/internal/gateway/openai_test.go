package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *OpenAIGateway {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := NewOpenAIGateway(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewOpenAIGateway: %v", err)
	}
	return gw
}

func TestChatComplete(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization=%q", got)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" || len(req.Messages) != 2 {
			t.Errorf("request=%+v", req)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "the reply"}},
			},
		})
	})

	out, err := gw.ChatComplete(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if out != "the reply" {
		t.Fatalf("reply=%q", out)
	}
}

func TestChatCompleteProviderError(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})

	_, err := gw.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}})

	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("err=%v want ProviderError", err)
	}
	if pErr.Op != "chat" || pErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("provider error=%+v", pErr)
	}
	if !strings.Contains(pErr.Message, "rate limited") {
		t.Fatalf("message=%q want body preserved for logs", pErr.Message)
	}
}

func TestChatCompleteEmptyHistory(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	})

	if _, err := gw.ChatComplete(context.Background(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v want=ErrInvalidInput", err)
	}
}

func TestGenerateImage(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("path=%q", r.URL.Path)
		}

		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			N      int    `json:"n"`
			Size   string `json:"size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "a red fox" || req.N != 1 || req.Size != "1024x1024" {
			t.Errorf("request=%+v", req)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": "https://img.example/fox.png"}},
		})
	})

	url, err := gw.GenerateImage(context.Background(), "a red fox")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if url != "https://img.example/fox.png" {
		t.Fatalf("url=%q", url)
	}
}

func TestGenerateImageBlankPrompt(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	})

	if _, err := gw.GenerateImage(context.Background(), "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v want=ErrInvalidInput", err)
	}
}

func TestSynthesizeSpeech(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path=%q", r.URL.Path)
		}

		var req struct {
			Model        string `json:"model"`
			Input        string `json:"input"`
			Voice        string `json:"voice"`
			Instructions string `json:"instructions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Input != "hello" || req.Voice != "nova" {
			t.Errorf("request=%+v", req)
		}
		if req.Instructions != "Speak with a calm emotion." {
			t.Errorf("instructions=%q", req.Instructions)
		}

		_, _ = w.Write([]byte("raw-audio"))
	})

	audio, err := gw.SynthesizeSpeech(context.Background(), SpeechRequest{
		Text:         "hello",
		Voice:        "nova",
		Instructions: "Speak with a calm emotion.",
	})
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if string(audio) != "raw-audio" {
		t.Fatalf("audio=%q", audio)
	}
}

func TestSynthesizeSpeechVoiceFallback(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Voice string `json:"voice"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Voice != "alloy" {
			t.Errorf("voice=%q want fallback", req.Voice)
		}
		_, _ = w.Write([]byte("a"))
	})

	if _, err := gw.SynthesizeSpeech(context.Background(), SpeechRequest{Text: "hello"}); err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
}

func TestDescribeImage(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content []struct {
					Type     string `json:"type"`
					Text     string `json:"text"`
					ImageURL *struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Errorf("request=%+v", req)
		} else {
			parts := req.Messages[0].Content
			if parts[0].Type != "text" || parts[0].Text != "what is this?" {
				t.Errorf("text part=%+v", parts[0])
			}
			if parts[1].Type != "image_url" || parts[1].ImageURL == nil ||
				!strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
				t.Errorf("image part=%+v", parts[1])
			}
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "a fox"}},
			},
		})
	})

	out, err := gw.DescribeImage(context.Background(), []byte{0xFF, 0xD8, 0xFF}, "what is this?")
	if err != nil {
		t.Fatalf("DescribeImage: %v", err)
	}
	if out != "a fox" {
		t.Fatalf("description=%q", out)
	}
}

func TestDescribeImageEmptyImage(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	})

	if _, err := gw.DescribeImage(context.Background(), nil, "q"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v want=ErrInvalidInput", err)
	}
}
