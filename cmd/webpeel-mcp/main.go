// webpeel-mcp is a stdio MCP server exposing the gateway to language
// model clients. It is a thin proxy over a running webpeel API: the
// browser and cache live in that process, not here.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type peelRequest struct {
	URL      string `json:"url"`
	Format   string `json:"format,omitempty"`
	Render   bool   `json:"render,omitempty"`
	Stealth  bool   `json:"stealth,omitempty"`
	Question string `json:"question,omitempty"`
	Readable bool   `json:"readable,omitempty"`
	Budget   *int   `json:"budget,omitempty"`
}

type batchRequest struct {
	URLs        []string `json:"urls"`
	Format      string   `json:"format,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
}

type peelResult struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Tokens   int    `json:"tokens"`
	Method   string `json:"method"`
	FinalURL string `json:"final_url"`
	Metadata struct {
		SourceURL string `json:"source_url"`
	} `json:"metadata"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type peelResponse struct {
	Success bool        `json:"success"`
	Result  *peelResult `json:"result"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type batchResponse struct {
	Success bool         `json:"success"`
	Results []peelResult `json:"results"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("WEBPEEL_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("WEBPEEL_API_KEY")

	s := server.NewMCPServer(
		"webpeel",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	peelTool := mcp.NewTool("peel_url",
		mcp.WithDescription("Fetch a web page and return clean, token-budgeted content for reading. Escalates through plain HTTP, a headless browser, and anti-bot countermeasures as needed."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to fetch"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'markdown' (default), 'text', or 'html'"),
			mcp.Enum("markdown", "text", "html"),
		),
		mcp.WithBoolean("render",
			mcp.Description("Force browser rendering for JavaScript-heavy pages"),
		),
		mcp.WithString("question",
			mcp.Description("Keep only content relevant to this question"),
		),
		mcp.WithNumber("budget",
			mcp.Description("Token budget for the returned content (default 4000)"),
		),
	)
	s.AddTool(peelTool, handlePeel(apiURL, apiKey))

	batchTool := mcp.NewTool("batch_peel",
		mcp.WithDescription("Fetch several URLs in parallel and return clean content for each."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of URLs to fetch"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'markdown' (default), 'text', or 'html'"),
			mcp.Enum("markdown", "text", "html"),
		),
	)
	s.AddTool(batchTool, handleBatch(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handlePeel(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 150 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := peelRequest{
			URL:      url,
			Format:   request.GetString("format", ""),
			Render:   request.GetBool("render", false),
			Question: request.GetString("question", ""),
		}
		if budget := request.GetInt("budget", 0); budget > 0 {
			reqBody.Budget = &budget
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/v1/peel", reqBody)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}

		var resp peelResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success || resp.Result == nil {
			msg := "fetch failed"
			if resp.Error != nil {
				msg = fmt.Sprintf("[%s] %s", resp.Error.Type, resp.Error.Message)
			}
			return mcp.NewToolResultError(msg), nil
		}

		r := resp.Result
		text := fmt.Sprintf("Title: %s\nSource: %s\nMethod: %s · %d tokens\n\n%s",
			r.Title, r.Metadata.SourceURL, r.Method, r.Tokens, r.Content)
		return mcp.NewToolResultText(text), nil
	}
}

func handleBatch(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil {
			return mcp.NewToolResultError("urls is required and must be an array of strings"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/v1/batch", batchRequest{
			URLs:   urls,
			Format: request.GetString("format", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("batch request failed: %v", err)), nil
		}

		var resp batchResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch response: %v", err)), nil
		}
		if !resp.Success {
			msg := "batch failed"
			if resp.Error != nil {
				msg = fmt.Sprintf("[%s] %s", resp.Error.Type, resp.Error.Message)
			}
			return mcp.NewToolResultError(msg), nil
		}

		var sb strings.Builder
		for i, r := range resp.Results {
			if r.Error != nil {
				fmt.Fprintf(&sb, "--- [%d] FAILED: [%s] %s ---\n\n", i+1, r.Error.Type, r.Error.Message)
				continue
			}
			fmt.Fprintf(&sb, "--- [%d] %s (%s) ---\n%s\n\n", i+1, r.Title, r.FinalURL, r.Content)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// apiPost sends a POST to the webpeel API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(io.LimitReader(resp.Body, 50<<20))
}
