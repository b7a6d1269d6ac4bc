// Package httputil provides HTTP utilities shared by package source clients.
//
// # Retry
//
// [Retry] wraps requests with automatic retry for transient failures such as
// connection errors and 5xx responses. Only errors wrapped in
// [RetryableError] are retried; a 404 from a feed is an answer, not a
// failure, and returns immediately:
//
//	err := httputil.DefaultPolicy.Do(ctx, func() error {
//	    resp, err := client.Do(req)
//	    if err != nil {
//	        return httputil.Transient(err)
//	    }
//	    ...
//	})
//
// # Defaults
//
//   - Max attempts: 3
//   - Base backoff: 1 second, doubling after each failure
//   - Request timeout: 30 seconds ([NewHTTPClient])
package httputil
