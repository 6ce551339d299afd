package s3api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"

	"github.com/wpnpeiris/fs-s3/internal/cors"
	"github.com/wpnpeiris/fs-s3/internal/interceptor"
	"github.com/wpnpeiris/fs-s3/internal/metrics"
	"github.com/wpnpeiris/fs-s3/internal/store"
	"github.com/wpnpeiris/fs-s3/internal/util"
)

// S3GatewayOptions configures request dispatch.
type S3GatewayOptions struct {
	// Hostname is the server's own host name. Requests whose Host header is
	// a subdomain of it (or names an existing bucket) are treated as
	// virtual-host-style and rewritten to path-style before routing.
	Hostname string

	// CORS is the server-level CORS configuration applied to buckets without
	// their own. nil selects the wildcard default unless CORSDisabled.
	CORS         *cors.Configuration
	CORSDisabled bool

	// IndexDocument switches every bucket into static-website mode using
	// this index (and optional ErrorDocument) unless the bucket carries its
	// own website configuration.
	IndexDocument string
	ErrorDocument string
}

// S3Gateway maps S3-compatible HTTP routes (2006-03-01) onto the filesystem
// object store.
type S3Gateway struct {
	store   *store.Store
	logger  log.Logger
	opts    S3GatewayOptions
	started time.Time
}

// NewS3Gateway creates a gateway serving the given store.
func NewS3Gateway(logger log.Logger, st *store.Store, opts S3GatewayOptions) *S3Gateway {
	return &S3Gateway{
		store:   st,
		logger:  logger,
		opts:    opts,
		started: time.Now().UTC(),
	}
}

// RegisterRoutes wires the S3 REST API endpoints onto the provided mux router.
func (s *S3Gateway) RegisterRoutes(router *mux.Router) {
	// S3 keys may contain dot segments and doubled slashes. Path cleaning
	// would 301-redirect those instead of letting validation reject them.
	router.SkipClean(true)
	r := router.PathPrefix("/").Subrouter()

	// Apply cancellation, metrics, validation and CORS headers to all routes.
	cancel := &interceptor.RequestCancellation{}
	r.Use(cancel.CancelIfDone)
	r.Use(s.instrument)
	r.Use(s.validateTarget)
	r.Use(s.corsHeaders)

	// Unauthenticated monitoring endpoint
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.Healthz)

	// Service level
	r.Methods(http.MethodGet).Path("/").HandlerFunc(s.ListBuckets)

	// Routes relative to /{bucket}
	bucket := r.PathPrefix("/{bucket}").Subrouter()

	// 1: Object operations with query parameters
	addObjectSubresource(bucket, http.MethodPost, "uploads", s.InitiateMultipartUpload)
	bucket.Methods(http.MethodPut).Path("/{key:.+}").Queries("uploadId", "{uploadId}").HandlerFunc(s.UploadPart)
	bucket.Methods(http.MethodGet).Path("/{key:.+}").Queries("uploadId", "{uploadId}").HandlerFunc(s.ListParts)
	bucket.Methods(http.MethodPost).Path("/{key:.+}").Queries("uploadId", "{uploadId}").HandlerFunc(s.CompleteMultipartUpload)
	bucket.Methods(http.MethodDelete).Path("/{key:.+}").Queries("uploadId", "{uploadId}").HandlerFunc(s.AbortMultipartUpload)

	// Object ACLs are canned: no mutation, fixed FULL_CONTROL grant.
	addObjectSubresource(bucket, http.MethodGet, "acl", s.GetAcl)

	// 2: Object operations without query parameters
	bucket.Methods(http.MethodPut).Path("/{key:.+}").HeadersRegexp("x-amz-copy-source", ".+").HandlerFunc(s.CopyObject)
	bucket.Methods(http.MethodPut).Path("/{key:.+}").HandlerFunc(s.PutObject)
	bucket.Methods(http.MethodGet).Path("/{key:.+}").HandlerFunc(s.GetObject)
	bucket.Methods(http.MethodHead).Path("/{key:.+}").HandlerFunc(s.HeadObject)
	bucket.Methods(http.MethodDelete).Path("/{key:.+}").HandlerFunc(s.DeleteObject)
	bucket.Methods(http.MethodOptions).Path("/{key:.+}").HandlerFunc(s.Preflight)

	// 3: Bucket operations with query parameters
	addBucketSubresource(bucket, http.MethodGet, "location", s.GetBucketLocation)
	addBucketSubresource(bucket, http.MethodGet, "acl", s.GetAcl)
	addBucketSubresource(bucket, http.MethodGet, "policy", s.GetBucketPolicy)
	addBucketSubresource(bucket, http.MethodGet, "versioning", s.GetBucketVersioning)
	addBucketSubresource(bucket, http.MethodGet, "cors", s.GetBucketCors)
	addBucketSubresource(bucket, http.MethodPut, "cors", s.PutBucketCors)
	addBucketSubresource(bucket, http.MethodDelete, "cors", s.DeleteBucketCors)
	addBucketSubresource(bucket, http.MethodGet, "website", s.GetBucketWebsite)
	addBucketSubresource(bucket, http.MethodPut, "website", s.PutBucketWebsite)
	addBucketSubresource(bucket, http.MethodDelete, "website", s.DeleteBucketWebsite)
	addBucketSubresource(bucket, http.MethodPost, "delete", s.DeleteObjects)

	// 4: Bucket operations without query parameters
	bucket.Methods(http.MethodPut).HandlerFunc(s.CreateBucket)
	bucket.Methods(http.MethodHead).HandlerFunc(s.HeadBucket)
	bucket.Methods(http.MethodGet).HandlerFunc(s.ListObjects)
	bucket.Methods(http.MethodDelete).HandlerFunc(s.DeleteBucket)
	bucket.Methods(http.MethodOptions).HandlerFunc(s.Preflight)
}

// Handler wraps the routed handler with virtual-host-style resolution, which
// must rewrite the URL before mux matching runs.
func (s *S3Gateway) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bucket, ok := s.hostStyleBucket(r); ok {
			p := r.URL.Path
			r.URL.Path = "/" + bucket
			if p != "/" {
				r.URL.Path += p
			}
		}
		next.ServeHTTP(w, r)
	})
}

// hostStyleBucket resolves the target bucket from the Host header. A host
// that is a subdomain of the configured hostname, or that names an existing
// bucket outright, selects virtual-host-style addressing.
func (s *S3Gateway) hostStyleBucket(r *http.Request) (string, bool) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" || host == s.opts.Hostname || net.ParseIP(host) != nil {
		return "", false
	}
	if s.opts.Hostname != "" && strings.HasSuffix(host, "."+s.opts.Hostname) {
		bucket := strings.TrimSuffix(host, "."+s.opts.Hostname)
		if util.ValidateBucketName(bucket) == nil {
			return bucket, true
		}
		return "", false
	}
	if util.ValidateBucketName(host) == nil && s.store.BucketExists(host) {
		return host, true
	}
	return "", false
}

// validateTarget rejects malformed bucket names and object keys before any
// handler work.
func (s *S3Gateway) validateTarget(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if bucket, ok := vars["bucket"]; ok && bucket != "" {
			if err := util.ValidateBucketName(bucket); err != nil {
				WriteErrorResponse(w, r, ErrInvalidBucketName)
				return
			}
		}
		if key, ok := vars["key"]; ok && key != "" {
			if err := util.ValidateObjectKey(key); err != nil {
				WriteErrorResponse(w, r, ErrInvalidRequest)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *S3Gateway) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveRequest(r.Method, rec.status)
	})
}

// corsConfigFor returns the CORS configuration in effect for a bucket:
// the bucket's own when set, else the server-level one. nil means disabled.
func (s *S3Gateway) corsConfigFor(bucket string) *cors.Configuration {
	if s.opts.CORSDisabled {
		return nil
	}
	if bucket != "" {
		if cfg, err := s.store.GetBucketCors(bucket); err == nil && cfg != nil {
			return cfg
		}
	}
	if s.opts.CORS != nil {
		return s.opts.CORS
	}
	return cors.Default()
}

// corsHeaders decorates non-preflight responses with Access-Control headers
// when a configured rule matches the request origin and method.
func (s *S3Gateway) corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		cfg := s.corsConfigFor(mux.Vars(r)["bucket"])
		if rule := cfg.Match(origin, r.Method); rule != nil {
			if rule.WildcardOrigin() {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			expose := append([]string(nil), rule.ExposeHeaders...)
			if r.Header.Get("Range") != "" {
				expose = append(expose, "Accept-Ranges", "Content-Range")
			}
			if len(expose) > 0 {
				w.Header().Set("Access-Control-Expose-Headers", strings.Join(expose, ", "))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// websiteConfigFor returns the static-website configuration in effect for a
// bucket, or nil when the bucket is not in website mode.
func (s *S3Gateway) websiteConfigFor(bucket string) *store.WebsiteConfig {
	if cfg, err := s.store.GetBucketWebsite(bucket); err == nil && cfg != nil {
		return cfg
	}
	if s.opts.IndexDocument != "" {
		return &store.WebsiteConfig{
			IndexDocument: s.opts.IndexDocument,
			ErrorDocument: s.opts.ErrorDocument,
		}
	}
	return nil
}

// addBucketSubresource registers a bucket-level subresource path using a
// query-string flag like ?cors= or ?website= to disambiguate behavior.
func addBucketSubresource(r *mux.Router, method, sub string, h http.HandlerFunc) {
	r.Methods(method).Queries(sub, "").HandlerFunc(h)
}

// addObjectSubresource registers an object-level subresource path using a
// query-string flag like ?uploads= to disambiguate behavior.
func addObjectSubresource(r *mux.Router, method, sub string, h http.HandlerFunc) {
	r.Methods(method).Path("/{key:.+}").Queries(sub, "").HandlerFunc(h)
}
