package s3api

import (
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wpnpeiris/fs-s3/internal/logging"
	"github.com/wpnpeiris/fs-s3/internal/store"
)

const defaultMaxParts = 1000

// InitiateMultipartUploadResult is the POST ?uploads response document.
type InitiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

// ListPartsResult is the GET ?uploadId response document.
type ListPartsResult struct {
	XMLName              xml.Name   `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListPartsResult"`
	Bucket               string     `xml:"Bucket"`
	Key                  string     `xml:"Key"`
	UploadID             string     `xml:"UploadId"`
	PartNumberMarker     int        `xml:"PartNumberMarker"`
	NextPartNumberMarker int        `xml:"NextPartNumberMarker"`
	MaxParts             int        `xml:"MaxParts"`
	IsTruncated          bool       `xml:"IsTruncated"`
	Parts                []PartItem `xml:"Part"`
}

// PartItem describes one part in a ListParts response.
type PartItem struct {
	PartNumber   int       `xml:"PartNumber"`
	ETag         string    `xml:"ETag"`
	Size         int64     `xml:"Size"`
	LastModified time.Time `xml:"LastModified"`
}

// CompleteMultipartUploadRequest is the parsed POST ?uploadId request
// document.
type CompleteMultipartUploadRequest struct {
	XMLName xml.Name      `xml:"CompleteMultipartUpload"`
	Parts   []RequestPart `xml:"Part"`
}

// RequestPart names one part in a complete request.
type RequestPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

// CompleteMultipartUploadResult is the POST ?uploadId response document.
type CompleteMultipartUploadResult struct {
	XMLName  xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

// InitiateMultipartUpload opens an upload session. The request's upload
// headers are captured now and applied to the assembled object.
func (s *S3Gateway) InitiateMultipartUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key := vars["bucket"], vars["key"]

	opts := putOptionsFromHeaders(r.Header)
	opts.ContentMD5 = ""

	uploadID, err := s.store.InitiateMultipartUpload(r.Context(), bucket, key, opts)
	switch {
	case errors.Is(err, store.ErrBucketNotFound):
		WriteErrorResponse(w, r, ErrNoSuchBucket)
	case err != nil:
		logging.Error(s.logger, "msg", "InitiateMultipartUpload failed", "bucket", bucket, "key", key, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
	default:
		WriteXMLResponse(w, r, http.StatusOK, InitiateMultipartUploadResult{
			Bucket:   bucket,
			Key:      key,
			UploadID: uploadID,
		})
	}
}

// UploadPart stores one part of an open upload session.
func (s *S3Gateway) UploadPart(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uploadID := vars["uploadId"]

	partNumber, err := strconv.Atoi(r.URL.Query().Get("partNumber"))
	if err != nil {
		WriteErrorResponse(w, r, ErrInvalidPart)
		return
	}

	etag, err := s.store.PutPart(r.Context(), uploadID, partNumber, r.Body)
	switch {
	case errors.Is(err, store.ErrUploadNotFound):
		WriteErrorResponse(w, r, ErrNoSuchUpload)
	case errors.Is(err, store.ErrInvalidPart):
		WriteErrorResponse(w, r, ErrInvalidPart)
	case err != nil:
		logging.Error(s.logger, "msg", "UploadPart failed", "uploadId", uploadID, "part", partNumber, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
	default:
		SetEtag(w, etag)
		WriteEmptyResponse(w, r, http.StatusOK)
	}
}

// ListParts reports the uploaded parts of a session in part-number order,
// paginated by part-number-marker and max-parts.
func (s *S3Gateway) ListParts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key, uploadID := vars["bucket"], vars["key"], vars["uploadId"]

	query := r.URL.Query()
	marker := 0
	if v := query.Get("part-number-marker"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteErrorResponse(w, r, ErrInvalidRequest)
			return
		}
		marker = n
	}
	maxParts := defaultMaxParts
	if v := query.Get("max-parts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteErrorResponse(w, r, ErrInvalidRequest)
			return
		}
		maxParts = n
	}

	_, parts, err := s.store.ListParts(r.Context(), uploadID)
	switch {
	case errors.Is(err, store.ErrUploadNotFound):
		WriteErrorResponse(w, r, ErrNoSuchUpload)
		return
	case err != nil:
		logging.Error(s.logger, "msg", "ListParts failed", "uploadId", uploadID, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
		return
	}

	result := ListPartsResult{
		Bucket:           bucket,
		Key:              key,
		UploadID:         uploadID,
		PartNumberMarker: marker,
		MaxParts:         maxParts,
	}
	for _, part := range parts {
		if part.PartNumber <= marker {
			continue
		}
		if len(result.Parts) == maxParts {
			result.IsTruncated = true
			result.NextPartNumberMarker = result.Parts[len(result.Parts)-1].PartNumber
			break
		}
		result.Parts = append(result.Parts, PartItem{
			PartNumber:   part.PartNumber,
			ETag:         formatETag(part.ETag),
			Size:         part.Size,
			LastModified: part.LastModified.UTC(),
		})
	}

	WriteXMLResponse(w, r, http.StatusOK, result)
}

// CompleteMultipartUpload assembles the named parts into the final object and
// discards the session.
func (s *S3Gateway) CompleteMultipartUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key, uploadID := vars["bucket"], vars["key"], vars["uploadId"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBodySize))
	if err != nil {
		WriteErrorResponse(w, r, ErrInternalError)
		return
	}

	var req CompleteMultipartUploadRequest
	if err := xml.Unmarshal(body, &req); err != nil || len(req.Parts) == 0 {
		WriteErrorResponse(w, r, ErrMalformedXML)
		return
	}

	partNumbers := make([]int, 0, len(req.Parts))
	for _, part := range req.Parts {
		partNumbers = append(partNumbers, part.PartNumber)
	}

	info, err := s.store.CompleteMultipartUpload(r.Context(), uploadID, partNumbers)
	switch {
	case errors.Is(err, store.ErrUploadNotFound):
		WriteErrorResponse(w, r, ErrNoSuchUpload)
	case errors.Is(err, store.ErrInvalidPart):
		WriteErrorResponse(w, r, ErrInvalidPart)
	case errors.Is(err, store.ErrBucketNotFound):
		WriteErrorResponse(w, r, ErrNoSuchBucket)
	case err != nil:
		logging.Error(s.logger, "msg", "CompleteMultipartUpload failed", "uploadId", uploadID, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
	default:
		WriteXMLResponse(w, r, http.StatusOK, CompleteMultipartUploadResult{
			Location: "/" + bucket + "/" + key,
			Bucket:   bucket,
			Key:      key,
			ETag:     formatETag(info.ETag),
		})
	}
}

// AbortMultipartUpload discards a session and its parts.
func (s *S3Gateway) AbortMultipartUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := mux.Vars(r)["uploadId"]

	err := s.store.AbortMultipartUpload(r.Context(), uploadID)
	switch {
	case errors.Is(err, store.ErrUploadNotFound):
		WriteErrorResponse(w, r, ErrNoSuchUpload)
	case err != nil:
		logging.Error(s.logger, "msg", "AbortMultipartUpload failed", "uploadId", uploadID, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
	default:
		WriteEmptyResponse(w, r, http.StatusNoContent)
	}
}
