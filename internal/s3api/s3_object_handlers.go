package s3api

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/wpnpeiris/fs-s3/internal/logging"
	"github.com/wpnpeiris/fs-s3/internal/metrics"
	"github.com/wpnpeiris/fs-s3/internal/store"
	"github.com/wpnpeiris/fs-s3/internal/util"
)

const metadataHeaderPrefix = "x-amz-meta-"

// maxDeleteBodySize caps the ?delete request document; AWS allows at most
// 1000 keys per request, which fits comfortably.
const maxDeleteBodySize = 2 << 20

// CopyObjectResult is the XML body of a successful server-side copy.
type CopyObjectResult struct {
	XMLName      xml.Name  `xml:"http://s3.amazonaws.com/doc/2006-03-01/ CopyObjectResult"`
	ETag         string    `xml:"ETag"`
	LastModified time.Time `xml:"LastModified"`
}

// DeleteRequest is the parsed ?delete request document.
type DeleteRequest struct {
	XMLName xml.Name         `xml:"Delete"`
	Quiet   bool             `xml:"Quiet"`
	Objects []ObjectToDelete `xml:"Object"`
}

// ObjectToDelete names one key in a bulk delete.
type ObjectToDelete struct {
	Key string `xml:"Key"`
}

// DeleteResult is the ?delete response document.
type DeleteResult struct {
	XMLName xml.Name        `xml:"http://s3.amazonaws.com/doc/2006-03-01/ DeleteResult"`
	Deleted []DeletedObject `xml:"Deleted"`
	Errors  []DeleteError   `xml:"Error"`
}

// DeletedObject reports one successfully deleted key.
type DeletedObject struct {
	Key string `xml:"Key"`
}

// DeleteError reports one key that could not be deleted.
type DeleteError struct {
	Key     string `xml:"Key"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

func formatETag(etag string) string {
	if strings.HasPrefix(etag, "\"") {
		return etag
	}
	return "\"" + etag + "\""
}

// putOptionsFromHeaders collects the persisted upload headers and x-amz-meta-
// user metadata from a PUT or initiate request.
func putOptionsFromHeaders(h http.Header) store.PutOptions {
	opts := store.PutOptions{
		ContentType:        h.Get("Content-Type"),
		ContentEncoding:    h.Get("Content-Encoding"),
		ContentDisposition: h.Get("Content-Disposition"),
		CacheControl:       h.Get("Cache-Control"),
		Expires:            h.Get("Expires"),
		ContentMD5:         h.Get("Content-MD5"),
	}
	for name, values := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, metadataHeaderPrefix) && len(values) > 0 {
			if opts.Metadata == nil {
				opts.Metadata = make(map[string]string)
			}
			opts.Metadata[strings.TrimPrefix(lower, metadataHeaderPrefix)] = values[0]
		}
	}
	return opts
}

// writeObjectHeaders mirrors the sidecar metadata onto the response.
func writeObjectHeaders(w http.ResponseWriter, info store.ObjectInfo) {
	h := w.Header()
	h.Set("Content-Type", info.ContentType)
	h.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	if info.ContentEncoding != "" {
		h.Set("Content-Encoding", info.ContentEncoding)
	}
	if info.ContentDisposition != "" {
		h.Set("Content-Disposition", info.ContentDisposition)
	}
	if info.CacheControl != "" {
		h.Set("Cache-Control", info.CacheControl)
	}
	if info.Expires != "" {
		h.Set("Expires", info.Expires)
	}
	for name, value := range info.Metadata {
		h.Set(metadataHeaderPrefix+name, value)
	}
	SetEtag(w, info.ETag)
}

// notModified answers conditional GET/HEAD requests: a matching If-None-Match
// etag or an If-Modified-Since at or after the object's mtime yields 304.
func notModified(r *http.Request, info store.ObjectInfo) bool {
	if match := r.Header.Get("If-None-Match"); match != "" {
		for _, candidate := range strings.Split(match, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == "*" || candidate == formatETag(info.ETag) {
				return true
			}
		}
		return false
	}
	if since := r.Header.Get("If-Modified-Since"); since != "" {
		if t, err := http.ParseTime(since); err == nil {
			return !info.LastModified.Truncate(time.Second).After(t)
		}
	}
	return false
}

// preconditionFailed answers If-Match and If-Unmodified-Since: a
// non-matching etag or a modification after the given time yields 412.
func preconditionFailed(r *http.Request, info store.ObjectInfo) bool {
	if match := r.Header.Get("If-Match"); match != "" {
		matched := false
		for _, candidate := range strings.Split(match, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == "*" || candidate == formatETag(info.ETag) {
				matched = true
				break
			}
		}
		if !matched {
			return true
		}
	}
	if since := r.Header.Get("If-Unmodified-Since"); since != "" {
		if t, err := http.ParseTime(since); err == nil {
			return info.LastModified.Truncate(time.Second).After(t)
		}
	}
	return false
}

// parseRangeHeader interprets a single bytes range against size. ok reports a
// syntactically usable range; a syntactically valid but unsatisfiable range
// returns ok with start == size as the 416 signal.
func parseRangeHeader(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}

	if first == "" {
		// Suffix range: last n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	if start >= size {
		return size, 0, true
	}
	end = size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return start, end, true
}

// PutObject stores the request body as an object.
func (s *S3Gateway) PutObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key := vars["bucket"], vars["key"]

	info, err := s.store.PutObject(r.Context(), bucket, key, r.Body, putOptionsFromHeaders(r.Header))
	switch {
	case errors.Is(err, store.ErrBucketNotFound):
		WriteErrorResponse(w, r, ErrNoSuchBucket)
	case errors.Is(err, store.ErrDigestMismatch):
		WriteErrorResponse(w, r, ErrInvalidDigest)
	case err != nil:
		logging.Error(s.logger, "msg", "PutObject failed", "bucket", bucket, "key", key, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
	default:
		SetEtag(w, info.ETag)
		WriteEmptyResponse(w, r, http.StatusOK)
	}
}

// CopyObject performs a server-side copy named by x-amz-copy-source. The
// metadata directive chooses between carrying the source headers (COPY, the
// default) and replacing them with the request's (REPLACE).
func (s *S3Gateway) CopyObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dstBucket, dstKey := vars["bucket"], vars["key"]

	srcBucket, srcKey, err := util.ParseCopySource(r.Header.Get("x-amz-copy-source"))
	if err != nil {
		WriteErrorResponse(w, r, ErrInvalidRequest)
		return
	}

	directive := strings.ToUpper(r.Header.Get("x-amz-metadata-directive"))
	if directive != "" && directive != "COPY" && directive != "REPLACE" {
		WriteErrorResponse(w, r, ErrInvalidRequest)
		return
	}
	replace := directive == "REPLACE"

	var opts store.PutOptions
	if replace {
		opts = putOptionsFromHeaders(r.Header)
		if opts.ContentType == "" {
			opts.ContentType = "application/octet-stream"
		}
		opts.ContentMD5 = ""
	}

	info, err := s.store.CopyObject(r.Context(), srcBucket, srcKey, dstBucket, dstKey, replace, opts)
	switch {
	case errors.Is(err, store.ErrSameObjectCopy):
		WriteErrorResponse(w, r, ErrInvalidRequest)
	case errors.Is(err, store.ErrBucketNotFound):
		WriteErrorResponse(w, r, ErrNoSuchBucket)
	case errors.Is(err, store.ErrKeyNotFound):
		WriteErrorResponse(w, r, ErrNoSuchKey)
	case err != nil:
		logging.Error(s.logger, "msg", "CopyObject failed",
			"source", srcBucket+"/"+srcKey, "bucket", dstBucket, "key", dstKey, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
	default:
		WriteXMLResponse(w, r, http.StatusOK, CopyObjectResult{
			ETag:         formatETag(info.ETag),
			LastModified: info.LastModified,
		})
	}
}

// GetObject streams an object, honoring single byte ranges and conditional
// headers. In website mode a missing key falls through to the error document.
func (s *S3Gateway) GetObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key := vars["bucket"], vars["key"]

	info, body, err := s.store.GetObject(r.Context(), bucket, key)
	if err != nil {
		s.writeObjectReadError(w, r, bucket, key, err)
		return
	}
	defer body.Close()

	if preconditionFailed(r, info) {
		WriteErrorResponse(w, r, ErrPreconditionFailed)
		return
	}
	if notModified(r, info) {
		SetEtag(w, info.ETag)
		WriteEmptyResponse(w, r, http.StatusNotModified)
		return
	}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		if start, end, ok := parseRangeHeader(rangeHeader, info.Size); ok {
			if start >= info.Size {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
				WriteErrorResponse(w, r, ErrInvalidRange)
				return
			}
			if _, err := body.Seek(start, io.SeekStart); err != nil {
				logging.Error(s.logger, "msg", "range seek failed", "bucket", bucket, "key", key, "err", err)
				WriteErrorResponse(w, r, ErrInternalError)
				return
			}
			length := end - start + 1
			writeObjectHeaders(w, info)
			setCommonHeaders(w)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, info.Size))
			w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
			w.WriteHeader(http.StatusPartialContent)
			n, _ := io.CopyN(w, body, length)
			metrics.AddObjectBytesRead(n)
			return
		}
	}

	writeObjectHeaders(w, info)
	setCommonHeaders(w)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
	n, _ := io.Copy(w, body)
	metrics.AddObjectBytesRead(n)
}

// HeadObject reports object metadata without a body.
func (s *S3Gateway) HeadObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key := vars["bucket"], vars["key"]

	info, err := s.store.StatObject(r.Context(), bucket, key)
	if err != nil {
		s.writeObjectReadError(w, r, bucket, key, err)
		return
	}

	if preconditionFailed(r, info) {
		WriteErrorResponse(w, r, ErrPreconditionFailed)
		return
	}
	if notModified(r, info) {
		SetEtag(w, info.ETag)
		WriteEmptyResponse(w, r, http.StatusNotModified)
		return
	}

	writeObjectHeaders(w, info)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	setCommonHeaders(w)
	w.WriteHeader(http.StatusOK)
}

// writeObjectReadError maps store read failures onto wire errors, diverting
// missing keys to the website error page when the bucket is in website mode.
func (s *S3Gateway) writeObjectReadError(w http.ResponseWriter, r *http.Request, bucket, key string, err error) {
	switch {
	case errors.Is(err, store.ErrBucketNotFound):
		WriteErrorResponse(w, r, ErrNoSuchBucket)
	case errors.Is(err, store.ErrKeyNotFound):
		if cfg := s.websiteConfigFor(bucket); cfg != nil && r.Method == http.MethodGet {
			s.serveWebsite(w, r, bucket, key, cfg)
			return
		}
		WriteErrorResponse(w, r, ErrNoSuchKey)
	case errors.Is(err, store.ErrCorruptObject):
		logging.Error(s.logger, "msg", "object missing its metadata record", "bucket", bucket, "key", key)
		WriteErrorResponse(w, r, ErrInternalError)
	default:
		logging.Error(s.logger, "msg", "object read failed", "bucket", bucket, "key", key, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
	}
}

// DeleteObject removes an object; deleting an absent key still returns 204.
func (s *S3Gateway) DeleteObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key := vars["bucket"], vars["key"]

	_, err := s.store.DeleteObject(r.Context(), bucket, key)
	switch {
	case errors.Is(err, store.ErrBucketNotFound):
		WriteErrorResponse(w, r, ErrNoSuchBucket)
	case err != nil:
		logging.Error(s.logger, "msg", "DeleteObject failed", "bucket", bucket, "key", key, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
	default:
		WriteEmptyResponse(w, r, http.StatusNoContent)
	}
}

// DeleteObjects handles POST ?delete bulk deletion. Keys that do not exist
// are still reported as Deleted, matching S3.
func (s *S3Gateway) DeleteObjects(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeleteBodySize))
	if err != nil {
		WriteErrorResponse(w, r, ErrInternalError)
		return
	}

	var req DeleteRequest
	if err := xml.Unmarshal(body, &req); err != nil || len(req.Objects) == 0 {
		WriteErrorResponse(w, r, ErrMalformedXML)
		return
	}

	if !s.store.BucketExists(bucket) {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}

	var result DeleteResult
	for _, obj := range req.Objects {
		if err := util.ValidateObjectKey(obj.Key); err != nil {
			result.Errors = append(result.Errors, DeleteError{
				Key:     obj.Key,
				Code:    "InvalidRequest",
				Message: err.Error(),
			})
			continue
		}
		if _, err := s.store.DeleteObject(r.Context(), bucket, obj.Key); err != nil {
			logging.Error(s.logger, "msg", "bulk delete failed", "bucket", bucket, "key", obj.Key, "err", err)
			result.Errors = append(result.Errors, DeleteError{
				Key:     obj.Key,
				Code:    "InternalError",
				Message: "We encountered an internal error, please try again.",
			})
			continue
		}
		if !req.Quiet {
			result.Deleted = append(result.Deleted, DeletedObject{Key: obj.Key})
		}
	}

	WriteXMLResponse(w, r, http.StatusOK, result)
}
