package s3api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/wpnpeiris/fs-s3/internal/event"
	"github.com/wpnpeiris/fs-s3/internal/logging"
	"github.com/wpnpeiris/fs-s3/internal/store"
)

// newTestGateway builds a gateway over a throwaway store and returns it with
// a router carrying the full route table.
func newTestGateway(t *testing.T, opts S3GatewayOptions) (*S3Gateway, *mux.Router, *store.Store) {
	t.Helper()
	logger := logging.NewLogger(logging.Config{Silent: true})
	st, err := store.New(logger, t.TempDir(), event.NewBus(logger))
	if err != nil {
		t.Fatalf("create store failed: %v", err)
	}
	gw := NewS3Gateway(logger, st, opts)
	r := mux.NewRouter()
	gw.RegisterRoutes(r)
	return gw, r, st
}

// doRequest serves one request against the router and returns the recorder.
func doRequest(r http.Handler, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}
