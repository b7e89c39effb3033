package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/localfile/engine/internal/errors"
)

// DefaultChatModel is the Ollama model used for the Facade's chat/analyze
// passthrough when the caller does not name one.
const DefaultChatModel = "llama3.2:1b"

// DefaultRequestTimeout bounds a single chat/analyze/rerank round trip.
const DefaultRequestTimeout = 30 * time.Second

// Client is the AI-backend contract client: a minimal RPC over Ollama's
// HTTP API with three methods (chat, analyze, rerank), used by the
// Facade's (C11) AI-facing passthrough and, via the Reranker interface, by
// the Searcher (C8) as an optional post-processing step. Grounded on the
// teacher's Ollama /api/generate call shape (internal/search's classifier
// and embedder clients) and repurposed here into one shared client instead
// of being duplicated per caller.
type Client struct {
	host    string
	model   string
	client  *http.Client
	breaker *errors.CircuitBreaker
}

// NewClient builds a Client talking to host (e.g. "http://localhost:11434")
// using model for chat/analyze/rerank requests. Calls are guarded by a
// CircuitBreaker (internal/errors/circuit.go) so a down or hung Ollama
// server fails fast for subsequent requests instead of every caller
// paying DefaultRequestTimeout one at a time.
func NewClient(host, model string) *Client {
	if host == "" {
		host = DefaultHost
	}
	if model == "" {
		model = DefaultChatModel
	}
	return &Client{
		host:    host,
		model:   model,
		client:  &http.Client{Timeout: DefaultRequestTimeout},
		breaker: errors.NewCircuitBreaker("aiclient"),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Chat sends prompt to the configured model and returns its completion.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt)
}

// Analyze is Chat with a framing prefix, used by the Facade when a caller
// wants commentary on indexed content rather than a conversational reply.
func (c *Client) Analyze(ctx context.Context, subject string) (string, error) {
	return c.generate(ctx, "Analyze the following and summarize what it is:\n\n"+subject)
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if !c.breaker.Allow() {
		return "", errors.ErrCircuitOpen
	}

	resp, err := c.doGenerate(ctx, prompt)
	if err != nil {
		c.breaker.RecordFailure()
		return "", err
	}
	c.breaker.RecordSuccess()
	return resp, nil
}

func (c *Client) doGenerate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Response, nil
}

// Available reports whether the Ollama host is reachable.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases the underlying HTTP transport's idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

const rerankPrompt = `Rate how relevant the following document is to the search query, on a scale from 0 to 100. Respond with ONLY the number.

Query: %s

Document: %s

Score:`

// Rerank scores each document's relevance to query by asking the chat
// model for a 0-100 relevance score per document, then sorts by score
// descending. This is a best-effort LLM-as-reranker strategy (no
// cross-encoder is part of this stack), following the teacher's
// rate-then-parse pattern used for query classification.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		resp, err := c.generate(ctx, fmt.Sprintf(rerankPrompt, query, doc))
		score := 0.5
		if err == nil {
			if parsed, ok := parseScore(resp); ok {
				score = parsed
			}
		}
		results[i] = RerankResult{Index: i, Score: score, Document: doc}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func parseScore(response string) (float64, bool) {
	response = strings.TrimSpace(response)
	fields := strings.Fields(response)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimRight(fields[0], "."), 64)
	if err != nil {
		return 0, false
	}
	if n > 1 {
		n = n / 100
	}
	if n < 0 {
		n = 0
	}
	if n > 1 {
		n = 1
	}
	return n, true
}

var _ Reranker = (*Client)(nil)
