package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"inzikt/internal/types"
)

// maxTicketChars bounds the ticket text sent for analysis.
const maxTicketChars = 6000

const analysisPrompt = `You analyze customer support tickets. Reply with a JSON object with keys
"summary" (one or two sentences), "tags" (up to five short lowercase topic tags) and
"sentiment" (one of "positive", "neutral", "negative").`

var sentiments = map[string]bool{"positive": true, "neutral": true, "negative": true}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type analysisPayload struct {
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	Sentiment string   `json:"sentiment"`
}

// OpenAIAnalyzer summarizes and tags tickets through the chat completions
// API.
type OpenAIAnalyzer struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	model   string
	now     func() time.Time
}

func NewOpenAIAnalyzer(base *BaseClient, baseURL, apiKey, model string) *OpenAIAnalyzer {
	return &OpenAIAnalyzer{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, t types.Ticket) (*types.TicketAnalysis, error) {
	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: analysisPrompt},
			{Role: "user", Content: ticketText(t)},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build completion request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.base.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(types.ErrCodeUpstreamOpenAI, "openai", resp)
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamOpenAI, "failed to decode completion", err)
	}
	if len(cr.Choices) == 0 {
		return nil, types.NewAppError(types.ErrCodeUpstreamOpenAI, "completion returned no choices", nil)
	}

	var p analysisPayload
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &p); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamOpenAI, "completion is not the requested JSON", err)
	}
	if strings.TrimSpace(p.Summary) == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamOpenAI, "completion has an empty summary", nil)
	}

	sentiment := strings.ToLower(strings.TrimSpace(p.Sentiment))
	if !sentiments[sentiment] {
		sentiment = "neutral"
	}
	model := cr.Model
	if model == "" {
		model = a.model
	}
	return &types.TicketAnalysis{
		TicketID:  t.ID,
		Summary:   strings.TrimSpace(p.Summary),
		Tags:      normalizeTags(p.Tags),
		Sentiment: sentiment,
		Model:     model,
		CreatedAt: a.now(),
	}, nil
}

func ticketText(t types.Ticket) string {
	text := fmt.Sprintf("Subject: %s\nStatus: %s\n\n%s", t.Subject, t.Status, t.Description)
	if len(text) <= maxTicketChars {
		return text
	}
	cut := maxTicketChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func normalizeTags(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == 5 {
			break
		}
	}
	return out
}
