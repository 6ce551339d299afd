package s3api

import (
	"strings"
	"testing"
)

const testCORSDoc = `<CORSConfiguration>
  <CORSRule>
    <AllowedOrigin>https://example.com</AllowedOrigin>
    <AllowedMethod>GET</AllowedMethod>
    <AllowedMethod>PUT</AllowedMethod>
    <AllowedHeader>Content-Type</AllowedHeader>
    <ExposeHeader>ETag</ExposeHeader>
    <MaxAgeSeconds>600</MaxAgeSeconds>
  </CORSRule>
</CORSConfiguration>`

func TestBucketCorsLifecycle(t *testing.T) {
	_, r, st := newTestGateway(t, S3GatewayOptions{})
	if err := st.CreateBucket("b"); err != nil {
		t.Fatalf("create bucket failed: %v", err)
	}

	rr := doRequest(r, "GET", "/b?cors", nil, nil)
	if rr.Code != 404 {
		t.Fatalf("expected 404 before configuration, got %d", rr.Code)
	}
	if code := errorCodeOf(t, rr.Body.Bytes()); code != "NoSuchCORSConfiguration" {
		t.Fatalf("expected NoSuchCORSConfiguration, got %s", code)
	}

	rr = doRequest(r, "PUT", "/b?cors", strings.NewReader(testCORSDoc), nil)
	if rr.Code != 200 {
		t.Fatalf("put cors failed: %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(r, "GET", "/b?cors", nil, nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "https://example.com") {
		t.Fatalf("unexpected cors read: %d %s", rr.Code, rr.Body.String())
	}

	if rr = doRequest(r, "DELETE", "/b?cors", nil, nil); rr.Code != 204 {
		t.Fatalf("delete cors failed: %d", rr.Code)
	}
	if rr = doRequest(r, "GET", "/b?cors", nil, nil); rr.Code != 404 {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestPutBucketCorsRejectsInvalid(t *testing.T) {
	_, r, st := newTestGateway(t, S3GatewayOptions{})
	if err := st.CreateBucket("b"); err != nil {
		t.Fatalf("create bucket failed: %v", err)
	}

	// A rule without AllowedMethod fails validation, not just XML parsing.
	doc := `<CORSConfiguration><CORSRule><AllowedOrigin>*</AllowedOrigin></CORSRule></CORSConfiguration>`
	rr := doRequest(r, "PUT", "/b?cors", strings.NewReader(doc), nil)
	if rr.Code != 400 {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCodeOf(t, rr.Body.Bytes()); code != "MalformedXML" {
		t.Fatalf("expected MalformedXML, got %s", code)
	}
}

func TestPreflightAllowed(t *testing.T) {
	_, r, st := newTestGateway(t, S3GatewayOptions{})
	if err := st.CreateBucket("b"); err != nil {
		t.Fatalf("create bucket failed: %v", err)
	}
	if rr := doRequest(r, "PUT", "/b?cors", strings.NewReader(testCORSDoc), nil); rr.Code != 200 {
		t.Fatalf("put cors failed: %d", rr.Code)
	}

	rr := doRequest(r, "OPTIONS", "/b/key", nil, map[string]string{
		"Origin":                         "https://example.com",
		"Access-Control-Request-Method":  "PUT",
		"Access-Control-Request-Headers": "Content-Type",
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("unexpected Allow-Origin %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, PUT" {
		t.Fatalf("unexpected Allow-Methods %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Fatalf("unexpected Allow-Headers %q", got)
	}
	if got := rr.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Fatalf("unexpected Max-Age %q", got)
	}
}

func TestPreflightDenied(t *testing.T) {
	_, r, st := newTestGateway(t, S3GatewayOptions{})
	if err := st.CreateBucket("b"); err != nil {
		t.Fatalf("create bucket failed: %v", err)
	}
	if rr := doRequest(r, "PUT", "/b?cors", strings.NewReader(testCORSDoc), nil); rr.Code != 200 {
		t.Fatalf("put cors failed: %d", rr.Code)
	}

	// Wrong origin.
	rr := doRequest(r, "OPTIONS", "/b/key", nil, map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": "GET",
	})
	if rr.Code != 403 {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("preflight denial must have an empty body, got %q", rr.Body.String())
	}

	// Missing required headers.
	rr = doRequest(r, "OPTIONS", "/b/key", nil, map[string]string{
		"Origin": "https://example.com",
	})
	if rr.Code != 403 {
		t.Fatalf("expected 403 without a request method, got %d", rr.Code)
	}
}

func TestPreflightFiltersRequestHeaders(t *testing.T) {
	_, r, st := newTestGateway(t, S3GatewayOptions{})
	if err := st.CreateBucket("b"); err != nil {
		t.Fatalf("create bucket failed: %v", err)
	}
	if rr := doRequest(r, "PUT", "/b?cors", strings.NewReader(testCORSDoc), nil); rr.Code != 200 {
		t.Fatalf("put cors failed: %d", rr.Code)
	}

	// A disallowed header does not fail the preflight; the response carries
	// the allowed subset only.
	rr := doRequest(r, "OPTIONS", "/b/key", nil, map[string]string{
		"Origin":                         "https://example.com",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "Content-Type, X-Custom-Secret",
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Fatalf("Allow-Headers = %q, want content-type", got)
	}

	// Nothing allowed: still 200, header omitted.
	rr = doRequest(r, "OPTIONS", "/b/key", nil, map[string]string{
		"Origin":                         "https://example.com",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "X-Custom-Secret",
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "" {
		t.Fatalf("Allow-Headers = %q, want empty", got)
	}
}

func TestPreflightDisabled(t *testing.T) {
	_, r, st := newTestGateway(t, S3GatewayOptions{CORSDisabled: true})
	if err := st.CreateBucket("b"); err != nil {
		t.Fatalf("create bucket failed: %v", err)
	}

	rr := doRequest(r, "OPTIONS", "/b/key", nil, map[string]string{
		"Origin":                        "https://example.com",
		"Access-Control-Request-Method": "GET",
	})
	if rr.Code != 403 {
		t.Fatalf("expected 403 when CORS is disabled, got %d", rr.Code)
	}
}

func TestPreflightDefaultWildcard(t *testing.T) {
	_, r, st := newTestGateway(t, S3GatewayOptions{})
	if err := st.CreateBucket("b"); err != nil {
		t.Fatalf("create bucket failed: %v", err)
	}

	rr := doRequest(r, "OPTIONS", "/b/key", nil, map[string]string{
		"Origin":                        "https://anything.example",
		"Access-Control-Request-Method": "DELETE",
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200 under default wildcard config, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard Allow-Origin, got %q", got)
	}
}

func TestCorsHeadersOnGet(t *testing.T) {
	_, r, st := newTestGateway(t, S3GatewayOptions{})
	if err := st.CreateBucket("b"); err != nil {
		t.Fatalf("create bucket failed: %v", err)
	}
	if rr := doRequest(r, "PUT", "/b/doc", strings.NewReader("x"), nil); rr.Code != 200 {
		t.Fatalf("put failed: %d", rr.Code)
	}

	rr := doRequest(r, "GET", "/b/doc", nil, map[string]string{"Origin": "https://example.com"})
	if rr.Code != 200 {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard Allow-Origin on simple request, got %q", got)
	}

	rr = doRequest(r, "GET", "/b/doc", nil, map[string]string{
		"Origin": "https://example.com",
		"Range":  "bytes=0-0",
	})
	if got := rr.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "Content-Range") {
		t.Fatalf("range request should expose Content-Range, got %q", got)
	}
}

func TestBucketWebsiteLifecycle(t *testing.T) {
	_, r, st := newTestGateway(t, S3GatewayOptions{})
	if err := st.CreateBucket("site"); err != nil {
		t.Fatalf("create bucket failed: %v", err)
	}

	rr := doRequest(r, "GET", "/site?website", nil, nil)
	if rr.Code != 404 {
		t.Fatalf("expected 404 before configuration, got %d", rr.Code)
	}
	if code := errorCodeOf(t, rr.Body.Bytes()); code != "NoSuchWebsiteConfiguration" {
		t.Fatalf("expected NoSuchWebsiteConfiguration, got %s", code)
	}

	doc := `<WebsiteConfiguration><IndexDocument><Suffix>index.html</Suffix></IndexDocument><ErrorDocument><Key>error.html</Key></ErrorDocument></WebsiteConfiguration>`
	if rr = doRequest(r, "PUT", "/site?website", strings.NewReader(doc), nil); rr.Code != 200 {
		t.Fatalf("put website failed: %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(r, "GET", "/site?website", nil, nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "index.html") {
		t.Fatalf("unexpected website read: %d %s", rr.Code, rr.Body.String())
	}

	if rr = doRequest(r, "DELETE", "/site?website", nil, nil); rr.Code != 204 {
		t.Fatalf("delete website failed: %d", rr.Code)
	}

	// A configuration without an index document is rejected.
	bad := `<WebsiteConfiguration><ErrorDocument><Key>error.html</Key></ErrorDocument></WebsiteConfiguration>`
	if rr = doRequest(r, "PUT", "/site?website", strings.NewReader(bad), nil); rr.Code != 400 {
		t.Fatalf("expected 400 for missing index document, got %d", rr.Code)
	}
}
