package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
	"uptune/internal/models"
)

// LLMService generates short editorial "vibe" summaries of a community
// list via an OpenAI-compatible chat completion endpoint.
type LLMService struct {
	baseURL string
	token   string
	model   string
	client  *http.Client
}

var llmService *LLMService

// GetLLMService returns the singleton LLM client
func GetLLMService() *LLMService {
	if llmService == nil {
		llmService = &LLMService{
			baseURL: os.Getenv("LLM_BASE_URL"),
			token:   os.Getenv("LLM_TOKEN"),
			model:   os.Getenv("LLM_MODEL"),
			client:  &http.Client{Timeout: 30 * time.Second},
		}
	}
	return llmService
}

// Enabled reports whether the service is configured
func (s *LLMService) Enabled() bool {
	return s.baseURL != "" && s.token != ""
}

type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// AnalyzeList asks the model for a short summary of a list's character,
// feeding it the top entries in leaderboard order
func (s *LLMService) AnalyzeList(listTitle string, entries []models.Entry) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("llm service is not configured")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Community playlist: %s\n", listTitle)
	limit := len(entries)
	if limit > 20 {
		limit = 20
	}
	for i := 0; i < limit; i++ {
		e := entries[i]
		fmt.Fprintf(&sb, "%d. %s — %s (%d votes)\n", i+1, e.SongTitle, e.ArtistName, e.VoteScore)
	}
	sb.WriteString("\nIn 2-3 sentences, describe the musical character of this playlist and what it says about the people voting on it.")

	reqBody := ChatRequest{
		Model: s.model,
		Messages: []ChatMessage{
			{Role: "system", Content: "You are a music editor writing warm, concise blurbs about community playlists."},
			{Role: "user", Content: sb.String()},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm request returned %d", resp.StatusCode)
	}

	var cr ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("failed to decode llm response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("llm response contained no choices")
	}

	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
