// Package testserver provides a deterministic HTTP server to point stampede
// at: status and latency endpoints for load runs, and a small linked HTML
// site for discover runs.
package testserver

import (
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SitePages is the number of pages under /site/page/.
const SitePages = 5

// Server is a configurable HTTP test server.
type Server struct {
	mux       *http.ServeMux
	requestID atomic.Int64
	hits      sync.Map // path -> *atomic.Int64
}

// NewServer creates a new test server with all endpoints configured.
func NewServer() *Server {
	s := &Server{
		mux: http.NewServeMux(),
	}
	s.registerHandlers()
	return s
}

// Handler returns the http.Handler for the server. Every request is counted
// per path before it is dispatched.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, _ := s.hits.LoadOrStore(r.URL.Path, new(atomic.Int64))
		v.(*atomic.Int64).Add(1)
		s.mux.ServeHTTP(w, r)
	})
}

// Hits returns how many requests were made for path.
func (s *Server) Hits(path string) int64 {
	if v, ok := s.hits.Load(path); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// TotalHits returns the number of requests across all paths.
func (s *Server) TotalHits() int64 {
	var total int64
	s.hits.Range(func(_, v any) bool {
		total += v.(*atomic.Int64).Load()
		return true
	})
	return total
}

// registerHandlers sets up all the test endpoints.
func (s *Server) registerHandlers() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status/", s.handleStatus)
	s.mux.HandleFunc("/delay/", s.handleDelay)
	s.mux.HandleFunc("/echo", s.handleEcho)
	s.mux.HandleFunc("/random-delay", s.handleRandomDelay)
	s.mux.HandleFunc("/fail-rate", s.handleFailRate)
	s.mux.HandleFunc("/json", s.handleJSON)
	s.mux.HandleFunc("/headers", s.handleHeaders)
	s.mux.HandleFunc("/redirect/", s.handleRedirect)
	s.mux.HandleFunc("/gzip", s.handleGzip)
	s.mux.HandleFunc("/site/", s.handleSite)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleStatus answers /status/{code} with that code.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, ok := pathInt(r, "/status/")
	if !ok || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	fmt.Fprintf(w, "%d %s", code, http.StatusText(code))
}

// handleDelay answers /delay/{ms} after ms milliseconds.
func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, ok := pathInt(r, "/delay/")
	if !ok || ms < 0 {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}
	if !sleep(r, ms) {
		return
	}
	fmt.Fprintf(w, "delayed %dms", ms)
}

// handleRandomDelay sleeps a uniform delay in [min, max) milliseconds.
func (s *Server) handleRandomDelay(w http.ResponseWriter, r *http.Request) {
	lo := queryInt(r, "min", 0)
	if lo < 0 {
		lo = 0
	}
	hi := queryInt(r, "max", lo+100)
	if hi < lo {
		hi = lo + 100
	}

	ms := lo
	if hi > lo {
		ms += rand.IntN(hi - lo)
	}
	if !sleep(r, ms) {
		return
	}
	fmt.Fprintf(w, "delayed %dms (range: %d-%d)", ms, lo, hi)
}

// handleFailRate answers 500 for rate percent of requests.
func (s *Server) handleFailRate(w http.ResponseWriter, r *http.Request) {
	rate := queryInt(r, "rate", 0)
	if rand.IntN(100) < rate {
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, "success")
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/plain"
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write(body)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"id":        s.requestID.Add(1),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"method":    r.Method,
		"path":      r.URL.Path,
		"query":     r.URL.RawQuery,
	})
}

// handleHeaders reports the first value of every request header.
func (s *Server) handleHeaders(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	writeJSON(w, map[string]any{
		"headers": headers,
		"method":  r.Method,
		"path":    r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func pathInt(r *http.Request, prefix string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, prefix))
	return n, err == nil
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}

// sleep waits ms milliseconds. It returns false if the client went away.
func sleep(r *http.Request, ms int) bool {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

// handleRedirect redirects n times before landing on /health.
// Example: GET /redirect/3 -> /redirect/2 -> /redirect/1 -> /health
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	n, ok := pathInt(r, "/redirect/")
	if !ok || n < 0 {
		http.Error(w, "invalid redirect count", http.StatusBadRequest)
		return
	}
	target := "/health"
	if n > 1 {
		target = "/redirect/" + strconv.Itoa(n-1)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleGzip serves a gzip-encoded HTML page when the client accepts it.
func (s *Server) handleGzip(w http.ResponseWriter, r *http.Request) {
	page := sitePage("Compressed", `<a href="/site/">site</a>`)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		_, _ = io.WriteString(w, page)
		return
	}
	w.Header().Set("Content-Encoding", "gzip")
	zw := gzip.NewWriter(w)
	_, _ = io.WriteString(zw, page)
	_ = zw.Close()
}

// handleSite serves a small linked site: the index links to every page,
// and each page links home, to its successor and to a few links a crawler
// must skip.
//
//	/site/          index
//	/site/page/{n}  pages 1..SitePages
func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/site/")

	var body string
	switch {
	case path == "":
		var links strings.Builder
		for i := 1; i <= SitePages; i++ {
			fmt.Fprintf(&links, `<li><a href="page/%d">Page %d</a></li>`, i, i)
		}
		body = sitePage("Index", "<ul>"+links.String()+"</ul>")
	case strings.HasPrefix(path, "page/"):
		n, err := strconv.Atoi(strings.TrimPrefix(path, "page/"))
		if err != nil || n < 1 || n > SitePages {
			http.NotFound(w, r)
			return
		}
		next := n%SitePages + 1
		body = sitePage(fmt.Sprintf("Page %d", n), fmt.Sprintf(
			`<a href="/site/">home</a>
<a href="/site/page/%d#top">next</a>
<a href="mailto:webmaster@example.com">mail</a>
<a href="javascript:void(0)">noop</a>
<a href="https://external.example/">external</a>`, next))
	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func sitePage(title, content string) string {
	return "<!DOCTYPE html><html><head><title>" + title +
		`</title><link rel="stylesheet" href="/site/page/1"></head><body>` +
		content + "</body></html>"
}
