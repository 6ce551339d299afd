package s3api

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/gorilla/mux"

	"github.com/wpnpeiris/fs-s3/internal/logging"
	"github.com/wpnpeiris/fs-s3/internal/store"
)

// BucketsResult is the XML envelope for ListBuckets responses.
type BucketsResult struct {
	XMLName xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListAllMyBucketsResult"`
	Owner   *s3.Owner
	Buckets []*s3.Bucket `xml:"Buckets>Bucket"`
}

// PrefixEntry represents a common prefix in S3 list results.
type PrefixEntry struct {
	Prefix string `xml:"Prefix"`
}

// ListBucketResult is the ListObjects (v1) response document.
type ListBucketResult struct {
	XMLName        xml.Name      `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name           string        `xml:"Name"`
	Prefix         string        `xml:"Prefix"`
	Marker         string        `xml:"Marker"`
	NextMarker     string        `xml:"NextMarker,omitempty"`
	MaxKeys        int           `xml:"MaxKeys"`
	Delimiter      string        `xml:"Delimiter,omitempty"`
	IsTruncated    bool          `xml:"IsTruncated"`
	Contents       []s3.Object   `xml:"Contents"`
	CommonPrefixes []PrefixEntry `xml:"CommonPrefixes,omitempty"`
}

// ListBucketResultV2 is the ListObjectsV2 response document. It omits Marker
// and carries KeyCount and continuation tokens instead.
type ListBucketResultV2 struct {
	XMLName               xml.Name      `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name                  string        `xml:"Name"`
	Prefix                string        `xml:"Prefix"`
	StartAfter            string        `xml:"StartAfter,omitempty"`
	ContinuationToken     string        `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string        `xml:"NextContinuationToken,omitempty"`
	KeyCount              int           `xml:"KeyCount"`
	MaxKeys               int           `xml:"MaxKeys"`
	Delimiter             string        `xml:"Delimiter,omitempty"`
	IsTruncated           bool          `xml:"IsTruncated"`
	Contents              []s3.Object   `xml:"Contents"`
	CommonPrefixes        []PrefixEntry `xml:"CommonPrefixes,omitempty"`
}

// LocationConstraint is the GetBucketLocation response; an empty value means
// the default region.
type LocationConstraint struct {
	XMLName  xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ LocationConstraint"`
	Location string   `xml:",chardata"`
}

// VersioningConfiguration is the canned GetBucketVersioning response;
// versioning is never enabled.
type VersioningConfiguration struct {
	XMLName xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ VersioningConfiguration"`
}

// AccessControlPolicy is the canned ACL response: a single FULL_CONTROL
// grant for the owner. ACL mutation is not supported.
type AccessControlPolicy struct {
	XMLName xml.Name  `xml:"http://s3.amazonaws.com/doc/2006-03-01/ AccessControlPolicy"`
	Owner   *s3.Owner `xml:"Owner"`
	Grants  []Grant   `xml:"AccessControlList>Grant"`
}

// Grant pairs a grantee with a permission in ACL responses.
type Grant struct {
	Grantee    Grantee `xml:"Grantee"`
	Permission string  `xml:"Permission"`
}

// Grantee identifies the receiver of an ACL grant.
type Grantee struct {
	XMLNS       string `xml:"xmlns:xsi,attr"`
	XSIType     string `xml:"xsi:type,attr"`
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

var cannedOwner = &s3.Owner{
	ID:          aws.String("fs-s3-owner-0000000000000000000000000000000000000000"),
	DisplayName: aws.String("fs-s3"),
}

// ListBuckets enumerates bucket directories below the data root.
func (s *S3Gateway) ListBuckets(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListBuckets()
	if err != nil {
		logging.Error(s.logger, "msg", "ListBuckets failed", "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
		return
	}

	var buckets []*s3.Bucket
	for _, entry := range entries {
		buckets = append(buckets, &s3.Bucket{
			Name:         aws.String(entry.Name),
			CreationDate: aws.Time(entry.CreationTime),
		})
	}

	WriteXMLResponse(w, r, http.StatusOK, BucketsResult{
		Owner:   cannedOwner,
		Buckets: buckets,
	})
}

// CreateBucket creates the bucket directory. Creating an existing bucket
// owned by this server succeeds idempotently.
func (s *S3Gateway) CreateBucket(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	err := s.store.CreateBucket(bucket)
	switch {
	case errors.Is(err, store.ErrBucketExists):
		WriteErrorResponse(w, r, ErrBucketAlreadyExists)
		return
	case err != nil:
		logging.Error(s.logger, "msg", "CreateBucket failed", "bucket", bucket, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
		return
	}
	w.Header().Set("Location", "/"+bucket)
	WriteEmptyResponse(w, r, http.StatusOK)
}

// DeleteBucket removes an empty bucket.
func (s *S3Gateway) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	err := s.store.DeleteBucket(bucket)
	switch {
	case errors.Is(err, store.ErrBucketNotFound):
		WriteErrorResponse(w, r, ErrNoSuchBucket)
	case errors.Is(err, store.ErrBucketNotEmpty):
		WriteErrorResponse(w, r, ErrBucketNotEmpty)
	case err != nil:
		logging.Error(s.logger, "msg", "DeleteBucket failed", "bucket", bucket, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
	default:
		WriteEmptyResponse(w, r, http.StatusNoContent)
	}
}

// HeadBucket probes bucket existence.
func (s *S3Gateway) HeadBucket(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	if !s.store.BucketExists(bucket) {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	WriteEmptyResponse(w, r, http.StatusOK)
}

// GetBucketLocation reports the canned default region.
func (s *S3Gateway) GetBucketLocation(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	if !s.store.BucketExists(bucket) {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	WriteXMLResponse(w, r, http.StatusOK, LocationConstraint{})
}

// GetAcl returns the canned FULL_CONTROL policy for both bucket and object
// ACL reads.
func (s *S3Gateway) GetAcl(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	if !s.store.BucketExists(bucket) {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	WriteXMLResponse(w, r, http.StatusOK, AccessControlPolicy{
		Owner: cannedOwner,
		Grants: []Grant{{
			Grantee: Grantee{
				XMLNS:       "http://www.w3.org/2001/XMLSchema-instance",
				XSIType:     "CanonicalUser",
				ID:          aws.StringValue(cannedOwner.ID),
				DisplayName: aws.StringValue(cannedOwner.DisplayName),
			},
			Permission: "FULL_CONTROL",
		}},
	})
}

// GetBucketPolicy always reports that no policy is present.
func (s *S3Gateway) GetBucketPolicy(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	if !s.store.BucketExists(bucket) {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	WriteErrorResponse(w, r, ErrNoSuchBucketPolicy)
}

// GetBucketVersioning reports versioning as never enabled.
func (s *S3Gateway) GetBucketVersioning(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	if !s.store.BucketExists(bucket) {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	WriteXMLResponse(w, r, http.StatusOK, VersioningConfiguration{})
}

// ListObjects answers both list API versions, selected by list-type=2, and
// routes bucket-root GETs to the website index when the bucket is in
// static-website mode.
func (s *S3Gateway) ListObjects(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]

	if cfg := s.websiteConfigFor(bucket); cfg != nil && r.URL.RawQuery == "" {
		s.serveWebsite(w, r, bucket, "", cfg)
		return
	}

	query := r.URL.Query()
	maxKeys := store.MaxKeysLimit
	if v := query.Get("max-keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteErrorResponse(w, r, ErrInvalidMaxKeys)
			return
		}
		maxKeys = n
	}

	listV2 := query.Get("list-type") == "2"
	marker := query.Get("marker")
	if listV2 {
		marker = query.Get("continuation-token")
		if marker == "" {
			marker = query.Get("start-after")
		}
	}

	res, err := s.store.ListObjects(bucket, store.ListQuery{
		Prefix:    query.Get("prefix"),
		Marker:    marker,
		Delimiter: query.Get("delimiter"),
		MaxKeys:   maxKeys,
	})
	if errors.Is(err, store.ErrBucketNotFound) {
		WriteErrorResponse(w, r, ErrNoSuchBucket)
		return
	}
	if err != nil {
		logging.Error(s.logger, "msg", "ListObjects failed", "bucket", bucket, "err", err)
		WriteErrorResponse(w, r, ErrInternalError)
		return
	}

	contents := make([]s3.Object, 0, len(res.Objects))
	for _, obj := range res.Objects {
		contents = append(contents, s3.Object{
			Key:          aws.String(obj.Key),
			ETag:         aws.String(formatETag(obj.ETag)),
			LastModified: aws.Time(obj.LastModified),
			Size:         aws.Int64(obj.Size),
			StorageClass: aws.String("STANDARD"),
		})
	}
	prefixes := make([]PrefixEntry, 0, len(res.CommonPrefixes))
	for _, p := range res.CommonPrefixes {
		prefixes = append(prefixes, PrefixEntry{Prefix: p})
	}

	if listV2 {
		WriteXMLResponse(w, r, http.StatusOK, ListBucketResultV2{
			Name:                  bucket,
			Prefix:                query.Get("prefix"),
			StartAfter:            query.Get("start-after"),
			ContinuationToken:     query.Get("continuation-token"),
			NextContinuationToken: res.NextMarker,
			KeyCount:              len(contents) + len(prefixes),
			MaxKeys:               maxKeys,
			Delimiter:             query.Get("delimiter"),
			IsTruncated:           res.IsTruncated,
			Contents:              contents,
			CommonPrefixes:        prefixes,
		})
		return
	}

	WriteXMLResponse(w, r, http.StatusOK, ListBucketResult{
		Name:           bucket,
		Prefix:         query.Get("prefix"),
		Marker:         query.Get("marker"),
		NextMarker:     res.NextMarker,
		MaxKeys:        maxKeys,
		Delimiter:      query.Get("delimiter"),
		IsTruncated:    res.IsTruncated,
		Contents:       contents,
		CommonPrefixes: prefixes,
	})
}
