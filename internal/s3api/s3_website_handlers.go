package s3api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/wpnpeiris/fs-s3/internal/logging"
	"github.com/wpnpeiris/fs-s3/internal/metrics"
	"github.com/wpnpeiris/fs-s3/internal/store"
)

// serveWebsite resolves a request against a bucket in static-website mode:
// the index document for the root and directory-style paths, the error
// document (or a plain HTML page) for everything else. Website errors are
// HTML, not S3 XML.
func (s *S3Gateway) serveWebsite(w http.ResponseWriter, r *http.Request, bucket, key string, cfg *store.WebsiteConfig) {
	candidate := cfg.IndexDocument
	if key != "" {
		candidate = strings.TrimSuffix(key, "/") + "/" + cfg.IndexDocument
	}

	info, body, err := s.store.GetObject(r.Context(), bucket, candidate)
	if err == nil {
		defer body.Close()
		s.serveWebsiteObject(w, http.StatusOK, info, body)
		return
	}
	if !errors.Is(err, store.ErrKeyNotFound) {
		logging.Error(s.logger, "msg", "website lookup failed", "bucket", bucket, "key", candidate, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
		return
	}

	if cfg.ErrorDocument != "" {
		info, body, err := s.store.GetObject(r.Context(), bucket, cfg.ErrorDocument)
		if err == nil {
			defer body.Close()
			s.serveWebsiteObject(w, http.StatusNotFound, info, body)
			return
		}
		if !errors.Is(err, store.ErrKeyNotFound) {
			logging.Error(s.logger, "msg", "website error document lookup failed",
				"bucket", bucket, "key", cfg.ErrorDocument, "err", err)
		}
	}

	page := fmt.Sprintf(
		"<!DOCTYPE html>\n<html><head><title>404 Not Found</title></head>"+
			"<body><h1>404 Not Found</h1><ul><li>Code: NoSuchKey</li><li>Key: %s</li></ul></body></html>\n",
		key)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(page)))
	setCommonHeaders(w)
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, page)
}

func (s *S3Gateway) serveWebsiteObject(w http.ResponseWriter, status int, info store.ObjectInfo, body io.Reader) {
	writeObjectHeaders(w, info)
	setCommonHeaders(w)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(status)
	n, _ := io.Copy(w, body)
	metrics.AddObjectBytesRead(n)
}
