package s3api

import (
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wpnpeiris/fs-s3/internal/cors"
	"github.com/wpnpeiris/fs-s3/internal/logging"
	"github.com/wpnpeiris/fs-s3/internal/store"
)

const maxConfigBodySize = 1 << 20

// WebsiteConfiguration is the ?website configuration document.
type WebsiteConfiguration struct {
	XMLName       xml.Name       `xml:"WebsiteConfiguration"`
	IndexDocument *IndexDocument `xml:"IndexDocument"`
	ErrorDocument *ErrorDocument `xml:"ErrorDocument"`
}

// IndexDocument names the object suffix served for directory-style requests.
type IndexDocument struct {
	Suffix string `xml:"Suffix"`
}

// ErrorDocument names the object served for missing keys.
type ErrorDocument struct {
	Key string `xml:"Key"`
}

func readConfigBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxConfigBodySize))
}

// GetBucketCors returns the bucket's stored CORS configuration.
func (s *S3Gateway) GetBucketCors(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	cfg, err := s.store.GetBucketCors(bucket)
	if errors.Is(err, store.ErrBucketNotFound) {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	if cfg == nil {
		WriteErrorResponse(w, r, ErrNoSuchCORSConfiguration)
		return
	}
	WriteXMLResponse(w, r, http.StatusOK, cfg)
}

// PutBucketCors validates and installs a CORS configuration.
func (s *S3Gateway) PutBucketCors(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]

	body, err := readConfigBody(r)
	if err != nil {
		WriteErrorResponse(w, r, ErrInternalError)
		return
	}
	cfg, err := cors.Parse(body)
	if err != nil {
		logging.Debug(s.logger, "msg", "rejected CORS configuration", "bucket", bucket, "err", err)
		WriteErrorResponse(w, r, ErrMalformedXML)
		return
	}

	if err := s.store.SetBucketCors(bucket, cfg); err != nil {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	WriteEmptyResponse(w, r, http.StatusOK)
}

// DeleteBucketCors drops the bucket's CORS configuration.
func (s *S3Gateway) DeleteBucketCors(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	if err := s.store.DeleteBucketCors(bucket); err != nil {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	WriteEmptyResponse(w, r, http.StatusNoContent)
}

// GetBucketWebsite returns the bucket's website configuration.
func (s *S3Gateway) GetBucketWebsite(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	cfg, err := s.store.GetBucketWebsite(bucket)
	if errors.Is(err, store.ErrBucketNotFound) {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	if cfg == nil {
		WriteErrorResponse(w, r, ErrNoSuchWebsiteConfiguration)
		return
	}

	out := WebsiteConfiguration{
		IndexDocument: &IndexDocument{Suffix: cfg.IndexDocument},
	}
	if cfg.ErrorDocument != "" {
		out.ErrorDocument = &ErrorDocument{Key: cfg.ErrorDocument}
	}
	WriteXMLResponse(w, r, http.StatusOK, out)
}

// PutBucketWebsite switches the bucket into static-website mode.
func (s *S3Gateway) PutBucketWebsite(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]

	body, err := readConfigBody(r)
	if err != nil {
		WriteErrorResponse(w, r, ErrInternalError)
		return
	}
	var cfg WebsiteConfiguration
	if err := xml.Unmarshal(body, &cfg); err != nil ||
		cfg.IndexDocument == nil || cfg.IndexDocument.Suffix == "" {
		WriteErrorResponse(w, r, ErrMalformedXML)
		return
	}

	website := &store.WebsiteConfig{IndexDocument: cfg.IndexDocument.Suffix}
	if cfg.ErrorDocument != nil {
		website.ErrorDocument = cfg.ErrorDocument.Key
	}
	if err := s.store.SetBucketWebsite(bucket, website); err != nil {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	WriteEmptyResponse(w, r, http.StatusOK)
}

// DeleteBucketWebsite drops the bucket's website configuration.
func (s *S3Gateway) DeleteBucketWebsite(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	if err := s.store.DeleteBucketWebsite(bucket); err != nil {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	WriteEmptyResponse(w, r, http.StatusNoContent)
}

// Preflight answers OPTIONS requests against the CORS configuration in
// effect. Denials are an empty 403 without an XML body, matching browser
// expectations rather than the S3 error format.
func (s *S3Gateway) Preflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	method := r.Header.Get("Access-Control-Request-Method")
	if origin == "" || method == "" {
		WriteEmptyResponse(w, r, http.StatusForbidden)
		return
	}

	cfg := s.corsConfigFor(mux.Vars(r)["bucket"])
	rule := cfg.Match(origin, method)
	if rule == nil {
		WriteEmptyResponse(w, r, http.StatusForbidden)
		return
	}

	if h := r.Header.Get("Access-Control-Request-Headers"); h != "" {
		var requested []string
		for _, name := range strings.Split(h, ",") {
			if name = strings.TrimSpace(name); name != "" {
				requested = append(requested, name)
			}
		}
		// Disallowed headers are filtered out, not fatal: the response
		// advertises the allowed subset and the browser enforces it.
		if allowed := rule.FilterRequestHeaders(requested); len(allowed) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowed, ", "))
		}
	}

	if rule.WildcardOrigin() {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(rule.AllowedMethods, ", "))
	if rule.MaxAgeSeconds != nil {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(*rule.MaxAgeSeconds))
	}
	WriteEmptyResponse(w, r, http.StatusOK)
}
