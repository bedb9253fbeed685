// Command healthcheck probes a running shotrun intake server. Test suites can
// call it to decide whether screenshot capture is active before taking any.
package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ericfisherdev/shotrun/internal/application"
)

const defaultServerURL = "http://127.0.0.1:47392"

func main() {
	os.Exit(check(os.Getenv(application.EnvServerURL)))
}

func check(serverURL string) int {
	target, ok := healthURL(serverURL)
	if !ok {
		return 1
	}

	client := &http.Client{Timeout: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 1
	}

	resp, err := client.Do(req)
	if err != nil {
		return 1
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 1
	}

	return 0
}

// healthURL turns the server URL handed to the test process into its health
// endpoint. A bind-all host is replaced with loopback.
func healthURL(raw string) (string, bool) {
	if raw == "" {
		raw = defaultServerURL
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	if host := u.Hostname(); host == "" || host == "0.0.0.0" {
		u.Host = "127.0.0.1"
		if port := u.Port(); port != "" {
			u.Host += ":" + port
		}
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/health"
	u.RawQuery = ""
	return u.String(), true
}
