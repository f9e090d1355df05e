package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

// HTTPTool performs outbound HTTP requests with a host deny list and
// body size caps in both directions.
type HTTPTool struct {
	client    *http.Client
	denyHosts []string
	maxBody   int64
}

func NewHTTPTool(cfg config.ToolsConfig) *HTTPTool {
	return &HTTPTool{
		client:    &http.Client{Timeout: cfg.DefaultTimeout},
		denyHosts: cfg.HTTPDenyHosts,
		maxBody:   cfg.HTTPMaxBody,
	}
}

func (t *HTTPTool) Name() string { return "http_request" }

func (t *HTTPTool) Definition() Definition {
	return Definition{
		Name:        "http_request",
		Description: "Perform an HTTP request and return the response status and body. Responses are truncated to the configured size cap.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"method":  map[string]any{"type": "string", "description": "HTTP method (GET, POST, ...)", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"}},
				"url":     map[string]any{"type": "string", "description": "Request URL (http or https)"},
				"headers": map[string]any{"type": "object", "description": "Request headers"},
				"body":    map[string]any{"type": "string", "description": "Request body"},
			},
			"required": []string{"url"},
		},
		Capabilities: []Capability{CapNetwork},
	}
}

func (t *HTTPTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Method == "" {
		params.Method = http.MethodGet
	}

	parsed, err := url.Parse(params.URL)
	if err != nil {
		return nil, protocol.Errorf(protocol.KindInvalidInput, "invalid URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, protocol.Errorf(protocol.KindInvalidInput, "unsupported scheme: %s", parsed.Scheme)
	}
	if err := t.checkHost(parsed); err != nil {
		return nil, err
	}

	if int64(len(params.Body)) > t.maxBody {
		return nil, protocol.Errorf(protocol.KindInvalidInput,
			"request body too large: %d bytes (max %d)", len(params.Body), t.maxBody)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(params.Method), params.URL, strings.NewReader(params.Body))
	if err != nil {
		return nil, protocol.Errorf(protocol.KindInvalidInput, "failed to build request: %v", err)
	}
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return errorResult(fmt.Sprintf("request failed: %v", err), start), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to read response: %v", err), start), nil
	}

	result := &Result{
		Success:  resp.StatusCode < 400,
		Content:  fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, string(body)),
		Duration: time.Since(start),
		Metadata: map[string]any{"status": resp.StatusCode},
	}
	if !result.Success {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return result, nil
}

func (t *HTTPTool) checkHost(u *url.URL) error {
	host := strings.ToLower(u.Hostname())
	for _, denied := range t.denyHosts {
		denied = strings.ToLower(denied)
		if host == denied || strings.HasSuffix(host, "."+denied) {
			return protocol.Errorf(protocol.KindNotPermitted, "host is denied: %s", host)
		}
	}

	// Literal loopback and link-local addresses are always refused so
	// the model cannot probe the server's own network.
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return protocol.Errorf(protocol.KindNotPermitted, "host is denied: %s", host)
		}
	}
	return nil
}
