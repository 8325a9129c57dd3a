package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

var errEmptyCommand = errors.New("empty command")

// namedTransport pairs a transport with a label for error messages.
type namedTransport struct {
	name      string
	transport sdkmcp.Transport
}

// transportsFor returns the transports to try, in order, for a server.
// Remote servers are tried as streamable HTTP first, then SSE.
func transportsFor(cfg Config) ([]namedTransport, error) {
	switch cfg.Type {
	case TransportTypeRemote:
		if cfg.URL == "" {
			return nil, errors.New("url is required for remote servers")
		}
		httpClient := httpClientWithHeaders(cfg.Headers)
		return []namedTransport{
			{name: "streamable", transport: &sdkmcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}},
			{name: "sse", transport: &sdkmcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}},
		}, nil

	case TransportTypeLocal, TransportTypeStdio:
		if len(cfg.Command) == 0 {
			return nil, errEmptyCommand
		}
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Environment {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return []namedTransport{{name: "stdio", transport: &sdkmcp.CommandTransport{Command: cmd}}}, nil

	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

func httpClientWithHeaders(headers map[string]string) *http.Client {
	// No global timeout; requests are bounded by their contexts.
	client := &http.Client{}
	if len(headers) > 0 {
		client.Transport = &headerRoundTripper{headers: headers, next: http.DefaultTransport}
	}
	return client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}
