package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/sambena/edgegate/dispatch"
	"github.com/sambena/edgegate/logger"
	"github.com/sambena/edgegate/policy"
	"github.com/sambena/edgegate/upstream"
)

// storageHandlers front the storage microservice: every route runs the
// policy engine against the live bucket metadata, then hands the
// request to the streaming gateway.
type storageHandlers struct {
	engine  *policy.Engine
	client  *upstream.Client
	gateway *upstream.Gateway
	logger  logger.Logger
}

func credentialsFrom(r *http.Request) policy.Credentials {
	return policy.Credentials{
		APIKey:       dispatch.APIKeyFrom(r),
		SessionToken: dispatch.SessionTokenFrom(r),
	}
}

// fetchBucket loads bucket metadata from the storage service. A 404
// maps to a nil bucket so the policy engine reports RESOURCE_NOT_FOUND.
func (h *storageHandlers) fetchBucket(r *http.Request, name string) (*policy.Bucket, error) {
	path := "/buckets/" + url.PathEscape(name)
	resp, err := h.client.Do(r.Context(), http.MethodGet, path, nil, nil, upstream.ProfileQuick)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("bucket lookup returned status %d", resp.StatusCode)
	}

	var bucket policy.Bucket
	if err := json.NewDecoder(resp.Body).Decode(&bucket); err != nil {
		return nil, fmt.Errorf("decoding bucket metadata: %w", err)
	}
	return &bucket, nil
}

// respondLookupFailure maps upstream failures during metadata lookup to
// the standard error body, mirroring the gateway's synthetic responses.
func (h *storageHandlers) respondLookupFailure(w http.ResponseWriter, r *http.Request, err error) {
	var code string
	switch {
	case errors.Is(err, upstream.ErrCircuitOpen):
		code = dispatch.CodeBreakerOpen
	case errors.Is(err, upstream.ErrTimeout):
		code = dispatch.CodeTimeoutError
	default:
		code = dispatch.CodeConnectionError
	}

	h.logger.Warn("bucket metadata lookup failed", logger.Err(err))
	dispatch.RespondError(w, r, dispatch.StatusForCode(code), code, "storage service request failed")
}

// authorizeBucket runs the full evaluation chain for the named bucket
// and reports whether the request may proceed.
func (h *storageHandlers) authorizeBucket(w http.ResponseWriter, r *http.Request, name string, opts policy.Options) bool {
	bucket, err := h.fetchBucket(r, name)
	if err != nil {
		h.respondLookupFailure(w, r, err)
		return false
	}

	var res policy.Visible
	if bucket != nil {
		res = bucket
	}

	if d := h.engine.Evaluate(res, credentialsFrom(r), opts); !d.Allowed {
		dispatch.RespondDecision(w, r, d)
		return false
	}
	return true
}

// handleListBuckets proxies the bucket listing. The listing itself is
// a public-tier operation.
func (h *storageHandlers) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	listing := &policy.Bucket{Name: "buckets", Public: true}
	if d := h.engine.Evaluate(listing, credentialsFrom(r), policy.Options{}); !d.Allowed {
		dispatch.RespondDecision(w, r, d)
		return
	}
	h.gateway.Forward(w, r, "/buckets")
}

// handleCreateBucket requires a session credential; the created bucket
// is owned by the caller, so ownership is established downstream.
func (h *storageHandlers) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	gate := &policy.Bucket{Name: "buckets", Public: false}
	if d := h.engine.Evaluate(gate, credentialsFrom(r), policy.Options{}); !d.Allowed {
		dispatch.RespondDecision(w, r, d)
		return
	}
	h.gateway.Forward(w, r, "/buckets")
}

func (h *storageHandlers) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	if !h.authorizeBucket(w, r, name, policy.Options{}) {
		return
	}
	h.gateway.Forward(w, r, "/buckets/"+url.PathEscape(name))
}

func (h *storageHandlers) handleUpdateBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	if !h.authorizeBucket(w, r, name, policy.Options{RequireOwnership: true}) {
		return
	}
	h.gateway.Forward(w, r, "/buckets/"+url.PathEscape(name))
}

func (h *storageHandlers) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	if !h.authorizeBucket(w, r, name, policy.Options{RequireOwnership: true}) {
		return
	}
	h.gateway.Forward(w, r, "/buckets/"+url.PathEscape(name))
}

// objectPath builds the upstream path for an object route. The key may
// contain slashes; each segment is escaped individually upstream of us
// by chi's wildcard, so it passes through as-is.
func objectPath(bucket, key string) string {
	return "/buckets/" + url.PathEscape(bucket) + "/objects/" + key
}

// handleDownloadObject streams an object. Visibility and ownership
// resolve through the containing bucket.
func (h *storageHandlers) handleDownloadObject(w http.ResponseWriter, r *http.Request) {
	h.forwardObject(w, r, policy.Options{})
}

// handleUploadObject streams an object in. Writes are owner-only.
func (h *storageHandlers) handleUploadObject(w http.ResponseWriter, r *http.Request) {
	h.forwardObject(w, r, policy.Options{RequireOwnership: true})
}

func (h *storageHandlers) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	h.forwardObject(w, r, policy.Options{RequireOwnership: true})
}

func (h *storageHandlers) handleHeadObject(w http.ResponseWriter, r *http.Request) {
	h.forwardObject(w, r, policy.Options{})
}

func (h *storageHandlers) forwardObject(w http.ResponseWriter, r *http.Request, opts policy.Options) {
	name := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	bucket, err := h.fetchBucket(r, name)
	if err != nil {
		h.respondLookupFailure(w, r, err)
		return
	}

	var file *policy.File
	if bucket != nil {
		file = &policy.File{Key: key, Bucket: bucket}
	}

	if d := h.engine.CheckFileAccess(file, credentialsFrom(r), opts); !d.Allowed {
		dispatch.RespondDecision(w, r, d)
		return
	}

	h.gateway.Forward(w, r, objectPath(name, key))
}
