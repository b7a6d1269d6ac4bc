package httputil

import (
	"net/http"
	"time"
)

const httpTimeout = 30 * time.Second

// NewHTTPClient creates an HTTP client with a standard timeout for feed requests.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}
