package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func tagsJSON(names ...string) []byte {
	var r tagsResponse
	for _, n := range names {
		r.Models = append(r.Models, struct {
			Name string `json:"name"`
		}{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("bge-m3:latest"))
	}))
	defer srv.Close()

	if !New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("bge-m3:latest", "nomic-embed-text:v1.5"))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	if !c.HasModel(context.Background(), "bge-m3") {
		t.Error("HasModel(bge-m3) = false, want true")
	}
	if !c.HasModel(context.Background(), "nomic-embed-text:v1.5") {
		t.Error("HasModel(nomic-embed-text:v1.5) = false, want true")
	}
	if c.HasModel(context.Background(), "bge") {
		t.Error("HasModel(bge) = true, want false")
	}
}

func TestEmbedBatch(t *testing.T) {
	var got embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer srv.Close()

	vecs, err := New(srv.URL).EmbedBatch(context.Background(), "bge-m3", []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got.Model != "bge-m3" || len(got.Input) != 2 {
		t.Errorf("request = %+v, want model bge-m3 with 2 inputs", got)
	}
	if len(vecs) != 2 || vecs[1][1] != 0.4 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).EmbedBatch(context.Background(), "m", []string{"a", "b"}); err == nil {
		t.Fatal("expected error for vector count mismatch")
	}
}

func TestEmbedBatch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).EmbedBatch(context.Background(), "m", []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want status 500 error", err)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	vecs, err := New("http://127.0.0.1:1").EmbedBatch(context.Background(), "m", nil)
	if err != nil || vecs != nil {
		t.Fatalf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req pullRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "bge-m3" {
			t.Errorf("pull model = %q, want bge-m3", req.Name)
		}
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var n int
	if err := New(srv.URL).PullModel(context.Background(), "bge-m3", func(PullProgress) { n++ }); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if n != 3 {
		t.Errorf("received %d progress updates, want 3", n)
	}
}

func TestEnsureModel_PullsMissing(t *testing.T) {
	pulled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			if pulled {
				w.Write(tagsJSON("bge-m3:latest"))
			} else {
				w.Write(tagsJSON())
			}
		case "/api/pull":
			pulled = true
			json.NewEncoder(w).Encode(PullProgress{Status: "success"})
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := EnsureModel(context.Background(), New(srv.URL), "bge-m3", &out); err != nil {
		t.Fatalf("EnsureModel: %v", err)
	}
	if !pulled {
		t.Error("model was not pulled")
	}
	if !strings.Contains(out.String(), "pulling") {
		t.Errorf("output = %q, want pull progress", out.String())
	}
}

func TestEnsureModel_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := EnsureModel(context.Background(), New(srv.URL), "bge-m3", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Fatalf("err = %v, want not reachable", err)
	}
}
