package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"kairos-backend/internal/llm"
)

const (
	HanRiverToolName = "getHanRiverTemp"

	maxUpstreamBody = 1 << 20
)

// HanRiverTemp fetches the current Han River water temperature and hands the
// upstream JSON to the model untouched.
type HanRiverTemp struct {
	url    string
	client *http.Client
	cache  Cache
	ttl    time.Duration
}

func NewHanRiverTemp(url string, client *http.Client, cache Cache, ttl time.Duration) *HanRiverTemp {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HanRiverTemp{url: url, client: client, cache: cache, ttl: ttl}
}

func (h *HanRiverTemp) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        HanRiverToolName,
		Description: "한강물의 현재 온도를 가져옵니다",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (h *HanRiverTemp) Execute(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	key := "tool:cache:" + HanRiverToolName

	if h.cache != nil && h.ttl > 0 {
		cached, ok, err := h.cache.Get(ctx, key)
		if err != nil {
			log.Printf("Tool cache read failed for %s: %v", HanRiverToolName, err)
		} else if ok {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("han river api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read han river api response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("han river api status %d", resp.StatusCode)
	}

	result := json.RawMessage(body)
	if !json.Valid(body) {
		result, _ = json.Marshal(string(body))
	}

	if h.cache != nil && h.ttl > 0 {
		if err := h.cache.Set(ctx, key, result, h.ttl); err != nil {
			log.Printf("Tool cache write failed for %s: %v", HanRiverToolName, err)
		}
	}

	return result, nil
}
