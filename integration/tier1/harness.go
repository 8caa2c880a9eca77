//go:build integration

package tier1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeService is an in-memory stand-in for the remote configuration API.
// It keeps full version/VCL state so a deployment can be asserted end to
// end: clone semantics, per-version file sets, validation and activation.
type fakeService struct {
	t *testing.T

	mu          sync.Mutex
	nextVersion int
	active      int
	vcls        map[int]map[string]string // version -> name -> content
	main        map[int]string            // version -> main VCL name
	validStatus string                    // status returned by validate
	validMsg    string

	requests []string // method + path, in order
}

// newFakeService starts with version 1 active and the given file set
func newFakeService(t *testing.T, initial map[string]string) *fakeService {
	t.Helper()

	files := make(map[string]string, len(initial))
	for name, content := range initial {
		files[name] = content
	}

	return &fakeService{
		t:           t,
		nextVersion: 2,
		active:      1,
		vcls:        map[int]map[string]string{1: files},
		main:        map[int]string{},
		validStatus: "ok",
	}
}

// start returns a running httptest server for the fake
func (f *fakeService) start() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /service/{service}/version", f.handleListVersions)
	mux.HandleFunc("GET /service/{service}/version/{version}/vcl", f.handleListVCLs)
	mux.HandleFunc("PUT /service/{service}/version/{version}/clone", f.handleClone)
	mux.HandleFunc("POST /service/{service}/version/{version}/vcl", f.handleCreate)
	mux.HandleFunc("PUT /service/{service}/version/{version}/vcl/{name}", f.handleUpdate)
	mux.HandleFunc("DELETE /service/{service}/version/{version}/vcl/{name}", f.handleDelete)
	mux.HandleFunc("PUT /service/{service}/version/{version}/vcl/{name}/main", f.handleSetMain)
	mux.HandleFunc("GET /service/{service}/version/{version}/validate", f.handleValidate)
	mux.HandleFunc("PUT /service/{service}/version/{version}/activate", f.handleActivate)

	srv := httptest.NewServer(mux)
	f.t.Cleanup(srv.Close)
	return srv
}

func (f *fakeService) record(r *http.Request) {
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
}

func (f *fakeService) version(r *http.Request, w http.ResponseWriter) (int, bool) {
	var v int
	if _, err := fmt.Sscanf(r.PathValue("version"), "%d", &v); err != nil {
		http.Error(w, "bad version", http.StatusBadRequest)
		return 0, false
	}
	if _, ok := f.vcls[v]; !ok {
		http.Error(w, "unknown version", http.StatusNotFound)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type versionDoc struct {
	Number int  `json:"number"`
	Active bool `json:"active"`
}

type vclDoc struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Main    bool   `json:"main"`
}

func (f *fakeService) handleListVersions(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	var out []versionDoc
	for v := range f.vcls {
		out = append(out, versionDoc{Number: v, Active: v == f.active})
	}
	writeJSON(w, out)
}

func (f *fakeService) handleListVCLs(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	v, ok := f.version(r, w)
	if !ok {
		return
	}

	out := []vclDoc{}
	for name, content := range f.vcls[v] {
		out = append(out, vclDoc{Name: name, Content: content, Main: f.main[v] == name})
	}
	writeJSON(w, out)
}

func (f *fakeService) handleClone(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	v, ok := f.version(r, w)
	if !ok {
		return
	}

	clone := f.nextVersion
	f.nextVersion++

	files := make(map[string]string, len(f.vcls[v]))
	for name, content := range f.vcls[v] {
		files[name] = content
	}
	f.vcls[clone] = files
	if main, ok := f.main[v]; ok {
		f.main[clone] = main
	}

	writeJSON(w, versionDoc{Number: clone})
}

func (f *fakeService) handleCreate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	v, ok := f.version(r, w)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := r.PostForm.Get("name")
	if _, exists := f.vcls[v][name]; exists {
		http.Error(w, "duplicate name", http.StatusConflict)
		return
	}
	f.vcls[v][name] = r.PostForm.Get("content")
	writeJSON(w, vclDoc{Name: name})
}

func (f *fakeService) handleUpdate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	v, ok := f.version(r, w)
	if !ok {
		return
	}

	name := r.PathValue("name")
	if _, exists := f.vcls[v][name]; !exists {
		http.Error(w, "unknown vcl", http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.vcls[v][name] = r.PostForm.Get("content")
	writeJSON(w, vclDoc{Name: name})
}

func (f *fakeService) handleDelete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	v, ok := f.version(r, w)
	if !ok {
		return
	}

	name := r.PathValue("name")
	if _, exists := f.vcls[v][name]; !exists {
		http.Error(w, "unknown vcl", http.StatusNotFound)
		return
	}
	delete(f.vcls[v], name)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (f *fakeService) handleSetMain(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	v, ok := f.version(r, w)
	if !ok {
		return
	}

	name := r.PathValue("name")
	if _, exists := f.vcls[v][name]; !exists {
		http.Error(w, "unknown vcl", http.StatusNotFound)
		return
	}
	f.main[v] = name
	writeJSON(w, vclDoc{Name: name, Main: true})
}

func (f *fakeService) handleValidate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	if _, ok := f.version(r, w); !ok {
		return
	}
	writeJSON(w, map[string]string{"status": f.validStatus, "msg": f.validMsg})
}

func (f *fakeService) handleActivate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	v, ok := f.version(r, w)
	if !ok {
		return
	}
	f.active = v
	writeJSON(w, versionDoc{Number: v, Active: true})
}

// activeVCLs returns a copy of the active version's file set
func (f *fakeService) activeVCLs() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]string, len(f.vcls[f.active]))
	for name, content := range f.vcls[f.active] {
		out[name] = content
	}
	return out
}

// mutationCount returns the number of state-changing requests seen
func (f *fakeService) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, req := range f.requests {
		if !strings.HasPrefix(req, "GET") {
			n++
		}
	}
	return n
}
