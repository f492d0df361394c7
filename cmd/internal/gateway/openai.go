package gateway

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

const (
	defaultBaseURL    = "https://api.openai.com"
	defaultChatModel  = "gpt-4o"
	defaultImageModel = "dall-e-3"
	defaultImageSize  = "1024x1024"
	defaultSpeechModel = "gpt-4o-mini-tts"

	// Error bodies are truncated before logging.
	maxErrorBodyBytes = 2048
)

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	HTTPClient  *http.Client
	ChatModel   string
	ImageModel  string
	ImageSize   string
	SpeechModel string
	SpeechVoiceFallback string
}

// OpenAIGateway implements Gateway against the OpenAI HTTP API.
type OpenAIGateway struct {
	cfg OpenAIConfig
}

// NewOpenAIGateway builds an adapter with defaults filled in.
func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrInvalidInput
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.ChatModel) == "" {
		cfg.ChatModel = defaultChatModel
	}
	if strings.TrimSpace(cfg.ImageModel) == "" {
		cfg.ImageModel = defaultImageModel
	}
	if strings.TrimSpace(cfg.ImageSize) == "" {
		cfg.ImageSize = defaultImageSize
	}
	if strings.TrimSpace(cfg.SpeechModel) == "" {
		cfg.SpeechModel = defaultSpeechModel
	}
	if strings.TrimSpace(cfg.SpeechVoiceFallback) == "" {
		cfg.SpeechVoiceFallback = "alloy"
	}
	return &OpenAIGateway{cfg: cfg}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatComplete submits the conversation to the chat completions endpoint.
func (g *OpenAIGateway) ChatComplete(ctx context.Context, history []Message) (string, error) {
	if g == nil {
		return "", ErrInvalidInput
	}
	if len(history) == 0 {
		return "", ErrInvalidInput
	}

	msgs := make([]chatMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	var out chatResponse
	err := g.postJSON(ctx, "chat", "/v1/chat/completions", chatRequest{
		Model:    g.cfg.ChatModel,
		Messages: msgs,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &ProviderError{Op: "chat", Message: "empty choices"}
	}
	return out.Choices[0].Message.Content, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// GenerateImage requests one image and returns its URL.
func (g *OpenAIGateway) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if g == nil {
		return "", ErrInvalidInput
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrInvalidInput
	}

	var out imageResponse
	err := g.postJSON(ctx, "image", "/v1/images/generations", imageRequest{
		Model:  g.cfg.ImageModel,
		Prompt: prompt,
		N:      1,
		Size:   g.cfg.ImageSize,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return "", &ProviderError{Op: "image", Message: "empty data"}
	}
	return out.Data[0].URL, nil
}

type speechAPIRequest struct {
	Model        string `json:"model"`
	Input        string `json:"input"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions,omitempty"`
}

// SynthesizeSpeech returns encoded audio bytes from the speech endpoint.
func (g *OpenAIGateway) SynthesizeSpeech(ctx context.Context, in SpeechRequest) ([]byte, error) {
	if g == nil {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrInvalidInput
	}
	voice := strings.TrimSpace(in.Voice)
	if voice == "" {
		voice = g.cfg.SpeechVoiceFallback
	}

	body, err := json.Marshal(speechAPIRequest{
		Model:        g.cfg.SpeechModel,
		Input:        in.Text,
		Voice:        voice,
		Instructions: in.Instructions,
	})
	if err != nil {
		return nil, err
	}

	resp, err := g.post(ctx, "/v1/audio/speech", body)
	if err != nil {
		return nil, &ProviderError{Op: "speech", Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Op: "speech", StatusCode: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Op: "speech", Message: err.Error()}
	}
	return audio, nil
}

type visionContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// DescribeImage sends the image inline as a data URL to the chat endpoint.
func (g *OpenAIGateway) DescribeImage(ctx context.Context, image []byte, question string) (string, error) {
	if g == nil {
		return "", ErrInvalidInput
	}
	if len(image) == 0 {
		return "", ErrInvalidInput
	}
	question = strings.TrimSpace(question)
	if question == "" {
		question = "Describe this image."
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
	parts := []visionContentPart{
		{Type: "text", Text: question},
		{Type: "image_url", ImageURL: &struct {
			URL string `json:"url"`
		}{URL: dataURL}},
	}

	var out chatResponse
	err := g.postJSON(ctx, "vision", "/v1/chat/completions", chatRequest{
		Model:    g.cfg.ChatModel,
		Messages: []chatMessage{{Role: "user", Content: parts}},
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &ProviderError{Op: "vision", Message: "empty choices"}
	}
	return out.Choices[0].Message.Content, nil
}

func (g *OpenAIGateway) postJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	resp, err := g.post(ctx, path, body)
	if err != nil {
		return &ProviderError{Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Op: op, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func (g *OpenAIGateway) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	return g.cfg.HTTPClient.Do(req)
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
