package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sambena/edgegate/logger"
)

// streamChunkSize bounds resident memory per transfer: bodies move in
// fixed-size chunks, never materialized whole.
const streamChunkSize = 8 * 1024

// Headers stripped before forwarding. Hop-by-hop headers are only
// meaningful for one connection leg; gateway credentials must not leak
// downstream.
var headersToStrip = []string{
	// Gateway credentials
	"Authorization",
	"X-Api-Key",
	// Hop-by-hop headers
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
}

// Gateway forwards requests to the storage microservice through the
// resilient client, streaming bodies in bounded chunks in both
// directions. Downstream failures surface as well-formed synthetic
// responses, never as raw transport errors.
type Gateway struct {
	client  *Client
	logger  logger.Logger
	metrics *Metrics
}

func NewGateway(client *Client, log logger.Logger) *Gateway {
	return &Gateway{
		client:  client,
		logger:  log,
		metrics: client.Metrics(),
	}
}

// profileForRequest selects the timeout budget by call-site intent:
// uploads get the file-upload budget, downloads the long budget,
// everything else the standard one.
func profileForRequest(r *http.Request) Profile {
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		if r.ContentLength != 0 {
			return ProfileFileUpload
		}
		return ProfileStandard
	case http.MethodGet:
		return ProfileLong
	default:
		return ProfileStandard
	}
}

// Forward proxies the inbound request to upstreamPath and streams the
// response back to the client.
func (g *Gateway) Forward(w http.ResponseWriter, r *http.Request, upstreamPath string) {
	g.forward(w, r, upstreamPath, profileForRequest(r))
}

func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, upstreamPath string, profile Profile) {
	start := time.Now()

	path := upstreamPath
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	header := sanitizeHeaders(r.Header)

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
		// Carry the declared length so the outbound request is not
		// forced into chunked encoding; backends that require a
		// Content-Length on uploads keep working.
		if r.ContentLength > 0 {
			header.Set("Content-Length", strconv.FormatInt(r.ContentLength, 10))
		}
	}

	resp, err := g.client.Do(r.Context(), r.Method, path, body, header, profile)
	if err != nil {
		g.respondSynthetic(w, r, err)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	written, err := g.streamBody(r.Context(), w, resp.Body)
	// Metrics accumulate after the last chunk is handed off.
	g.metrics.RecordStream(written, time.Since(start))

	if err != nil {
		// Mid-stream failure after headers are sent; nothing more to
		// write. Closing the body releases the upstream connection
		// instead of draining the remainder.
		g.logger.Warn("stream interrupted",
			logger.Err(err),
			logger.Int64("bytes_written", written),
			logger.String("path", upstreamPath))
	}
}

// streamBody copies in fixed-size chunks, flushing each chunk to the
// outbound transport before reading the next, so memory stays bounded
// by chunk size regardless of body length. Client disconnects stop the
// loop via the request context.
func (g *Gateway) streamBody(ctx context.Context, w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamChunkSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// respondSynthetic maps transport failures to well-formed responses:
// breaker-open to 503, timeout to 504, everything else to 500.
func (g *Gateway) respondSynthetic(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, ErrCircuitOpen):
		status = http.StatusServiceUnavailable
		code = "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		status = http.StatusGatewayTimeout
		code = "timeout_error"
	default:
		status = http.StatusInternalServerError
		code = "connection_error"
	}

	g.logger.Warn("upstream call failed",
		logger.Err(err),
		logger.String("code", code),
		logger.String("path", r.URL.Path))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": "storage service request failed",
		},
	})
}

// sanitizeHeaders clones the inbound headers minus hop-by-hop entries
// and any headers named by the Connection header.
func sanitizeHeaders(in http.Header) http.Header {
	out := in.Clone()

	conn := in.Get("Connection")

	for _, h := range headersToStrip {
		out.Del(h)
	}

	if conn != "" {
		for _, h := range strings.Split(conn, ",") {
			if h = strings.TrimSpace(h); h != "" {
				out.Del(h)
			}
		}
	}

	return out
}

// copyResponseHeaders forwards upstream response headers minus
// hop-by-hop entries.
func copyResponseHeaders(dst, src http.Header) {
	for k, values := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailers", "Transfer-Encoding", "Upgrade":
		return true
	}
	return false
}
