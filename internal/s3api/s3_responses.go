package s3api

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type mimeType string

const (
	mimeNone mimeType = ""
	// MimeXML is the content type of control-plane payloads.
	MimeXML mimeType = "application/xml"
)

// RESTErrorResponse - error response format
type RESTErrorResponse struct {
	XMLName    xml.Name `xml:"Error"`
	Code       string   `xml:"Code"`
	Message    string   `xml:"Message"`
	Resource   string   `xml:"Resource"`
	RequestID  string   `xml:"RequestId"`
	Key        string   `xml:"Key,omitempty"`
	BucketName string   `xml:"BucketName,omitempty"`
}

// NewRESTErrorResponse constructs an S3-style XML error body for the given
// API error and request context (resource path, bucket, and object).
func NewRESTErrorResponse(err APIError, resource string, bucket, object string) RESTErrorResponse {
	return RESTErrorResponse{
		Code:       err.Code,
		BucketName: bucket,
		Key:        object,
		Message:    err.Description,
		Resource:   resource,
		RequestID:  fmt.Sprintf("%d", time.Now().UnixNano()),
	}
}

// SetEtag sets the ETag response header, adding quotes when the value is
// unquoted to match S3 behavior.
func SetEtag(w http.ResponseWriter, etag string) {
	if etag != "" {
		if strings.HasPrefix(etag, "\"") {
			w.Header()["ETag"] = []string{etag}
		} else {
			w.Header()["ETag"] = []string{"\"" + etag + "\""}
		}
	}
}

// WriteXMLResponse encodes the response as XML and writes it with the given
// HTTP status code and appropriate Content-Type.
func WriteXMLResponse(w http.ResponseWriter, r *http.Request, statusCode int, response interface{}) {
	WriteResponse(w, r, statusCode, EncodeXMLResponse(response), MimeXML)
}

// WriteEmptyResponse writes only headers and the given status code.
func WriteEmptyResponse(w http.ResponseWriter, r *http.Request, statusCode int) {
	WriteResponse(w, r, statusCode, nil, mimeNone)
}

// EncodeXMLResponse serializes a value into an XML byte slice with xml.Header.
func EncodeXMLResponse(response interface{}) []byte {
	var bytesBuffer bytes.Buffer
	bytesBuffer.WriteString(xml.Header)
	encoder := xml.NewEncoder(&bytesBuffer)
	if err := encoder.Encode(response); err != nil {
		return []byte(xml.Header)
	}
	return bytesBuffer.Bytes()
}

// setCommonHeaders sets shared S3-style headers: a generated x-amz-request-id
// and Accept-Ranges.
func setCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("x-amz-request-id", fmt.Sprintf("%d", time.Now().UnixNano()))
	w.Header().Set("Accept-Ranges", "bytes")
}

// WriteErrorResponse looks up the API error for the given code and writes a
// serialized S3 XML error with the appropriate HTTP status.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, errorCode ErrorCode) {
	vars := mux.Vars(r)
	bucket := vars["bucket"]
	object := strings.TrimPrefix(vars["key"], "/")

	apiError := GetAPIError(errorCode)
	errorResponse := NewRESTErrorResponse(apiError, r.URL.Path, bucket, object)
	WriteXMLResponse(w, r, apiError.HTTPStatusCode, errorResponse)
}

// WriteResponse writes headers, status code, and optional body, flushing the
// response when done.
func WriteResponse(w http.ResponseWriter, r *http.Request, statusCode int, response []byte, mType mimeType) {
	setCommonHeaders(w)
	if response != nil {
		w.Header().Set("Content-Length", strconv.Itoa(len(response)))
	}
	if mType != mimeNone {
		w.Header().Set("Content-Type", string(mType))
	}
	w.WriteHeader(statusCode)
	if len(response) > 0 {
		if _, err := w.Write(response); err != nil {
			return
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}
}
