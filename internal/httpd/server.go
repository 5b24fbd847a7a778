package httpd

import (
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/config"
	"github.com/infraprint/infraprintd/internal/dispatch"
	"github.com/infraprint/infraprintd/internal/logging"
)

// shutdownTimeout bounds how long Serve waits for in-flight requests to
// finish once its context is canceled.
const shutdownTimeout = 5 * time.Second

// Server is the http.Handler that fronts one Dispatcher. One Server
// suffices for an entire daemon instance: every printer, job and system
// resource path is routed by Dispatcher.Handle, not by which Server
// accepted the connection.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Log        *logging.Logger

	// RequireAuth gates spec.md §4.5 item 1: when true, a request that
	// carries no HTTP Basic Auth credentials at all is rejected with a
	// bare 401 before it ever reaches the Dispatcher. Set this from
	// whether any of the configured admin/operator/proxy groups is
	// non-"*" — an all-open configuration never demands credentials.
	RequireAuth bool
}

// NewServer builds a Server in front of d.
func NewServer(d *dispatch.Dispatcher, requireAuth bool) *Server {
	return &Server{Dispatcher: d, Log: logging.Main, RequireAuth: requireAuth}
}

// ServeHTTP implements http.Handler: decode the IPP message and any
// trailing document bytes off the request body, dispatch it, encode the
// response, and for a successful Fetch-Document stream the job's spool
// file after it. Grounded on the teacher's HTTPProxy.ServeHTTP, minus the
// USB-backend round trip it no longer needs.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, config.ResourceBase+"/") {
		s.serveResource(w, r)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, _, hasAuth := r.BasicAuth()
	if s.RequireAuth && !hasAuth {
		w.Header().Set("WWW-Authenticate", `Basic realm="infraprintd"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	body, err := requestBody(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer body.Close()

	req := &goipp.Message{}
	if err := req.Decode(body); err != nil {
		s.Log.Debug('!', "httpd: decode request: %s", err)
		http.Error(w, "malformed IPP message", http.StatusBadRequest)
		return
	}

	resp := s.Dispatcher.Handle(r.Context(), req, user, body)

	respBytes, err := resp.EncodeBytes()
	if err != nil {
		s.Log.Error('!', "httpd: encode response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", goipp.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(respBytes)

	if goipp.Op(req.Code) == goipp.OpFetchDocument && goipp.Status(resp.Code) == goipp.StatusOk {
		s.streamDocument(w, req)
	}
}

// requestBody returns r.Body, transparently gunzipped when the client
// marked the request "Compression: gzip" per spec.md §6.
func requestBody(r *http.Request) (io.ReadCloser, error) {
	if r.Header.Get("Compression") != "gzip" && r.Header.Get("Content-Encoding") != "gzip" {
		return r.Body, nil
	}
	gz, err := gzip.NewReader(r.Body)
	if err != nil {
		return nil, err
	}
	return gz, nil
}

// streamDocument writes the fetched job's spool file to w after an
// already-written Fetch-Document response, closing the gap
// internal/dispatch/proxyops.go's handleFetchDocument leaves: it only
// returns descriptive attributes, since streaming the bytes themselves is
// this package's job once it owns the connection.
func (s *Server) streamDocument(w http.ResponseWriter, req *goipp.Message) {
	filename, _, ok := s.Dispatcher.DocumentFile(req)
	if !ok {
		return
	}

	f, err := os.Open(filename)
	if err != nil {
		s.Log.Error('!', "httpd: open spool file %s: %s", filename, err)
		return
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		s.Log.Error('!', "httpd: stream spool file %s: %s", filename, err)
	}
}

// serveResource handles a plain GET against a Resource's advertised HTTP
// path (e.g. an icon referenced by printer-icons), streaming its backing
// file. Grounded on resource.c's own resource-file GET path, served here
// rather than through the IPP Dispatcher since it's a bare file fetch,
// not an IPP operation.
func (s *Server) serveResource(w http.ResponseWriter, r *http.Request) {
	filename, format, ok := s.Dispatcher.ResourceFile(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filename)
	if err != nil {
		s.Log.Error('!', "httpd: open resource file %s: %s", filename, err)
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	if format != "" {
		w.Header().Set("Content-Type", format)
	}
	if _, err := io.Copy(w, f); err != nil {
		s.Log.Error('!', "httpd: stream resource file %s: %s", filename, err)
	}
}

// Serve runs an HTTP server accepting on ln until ctx is canceled, then
// shuts it down gracefully. Grounded on the teacher's NewHTTPProxy, which
// likewise spins http.Server.Serve in a goroutine and waits on a done
// channel.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
