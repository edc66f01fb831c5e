// Package web provides a tool that fetches URLs and extracts readable
// text content.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/okanta/relay"
)

const maxContent = 8000

// Tool fetches URLs and extracts readable content.
type Tool struct {
	client *http.Client
}

// New creates a web tool with a 15-second HTTP timeout.
func New() *Tool {
	return &Tool{client: &http.Client{Timeout: 15 * time.Second}}
}

// Register adds the "web_fetch" tool to the registry.
func (t *Tool) Register(reg *relay.Registry) error {
	params := []relay.Param{
		{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
	}
	return reg.Register("web_fetch",
		"Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		params,
		func(ctx context.Context, args map[string]any) (any, error) {
			rawURL, _ := args["url"].(string)
			if rawURL == "" {
				return nil, errors.New("url is required")
			}
			content, err := t.Fetch(ctx, rawURL)
			if err != nil {
				return nil, err
			}
			if len(content) > maxContent {
				content = content[:maxContent] + "\n... (truncated)"
			}
			return content, nil
		})
}

// Fetch downloads a URL and extracts readable text. Exported for use
// outside the registry.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RelayBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	// Fallback for pages readability cannot parse.
	return stripHTML(html), nil
}

var (
	tagRe   = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlRe  = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// stripHTML removes tags and collapses whitespace.
func stripHTML(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = htmlRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
