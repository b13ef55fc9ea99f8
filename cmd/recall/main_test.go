package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/importer"
	"github.com/hyperjump/recall/internal/indexer"
	"github.com/hyperjump/recall/internal/keyword"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/vector"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after question are moved first",
			args:     []string{"what did Ana say", "-output", "json"},
			expected: []string{"-output", "json", "what did Ana say"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-output", "json", "what did Ana say"},
			expected: []string{"-output", "json", "what did Ana say"},
		},
		{
			name:     "question only returns unchanged",
			args:     []string{"what did Ana say"},
			expected: []string{"what did Ana say"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"colour"}, "colour"},
		{"multiple words", []string{"favourite", "colour"}, "favourite colour"},
		{"quoted phrase", []string{"favourite colour"}, "favourite colour"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuery(tt.args); got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.RAG.TopK != config.DefaultTopK {
		t.Errorf("TopK = %d, want default %d", cfg.RAG.TopK, config.DefaultTopK)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	if err := writeDefaultConfig(path, false); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.ChatModel == "" || cfg.Embedding.Dimensions != config.DefaultDimensions {
		t.Errorf("unexpected config written: %+v", cfg.LLM)
	}
	if err := writeDefaultConfig(path, false); err == nil {
		t.Error("expected error when config exists")
	}
	if err := writeDefaultConfig(path, true); err != nil {
		t.Errorf("force overwrite: %v", err)
	}
}

func newTestComponents(t *testing.T, cfg *config.Config) *Components {
	t.Helper()
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	emb := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	vecs, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		t.Fatal(err)
	}
	c := &Components{
		Storage:     store,
		Embedder:    emb,
		VectorIndex: vecs,
		Indexer:     indexer.NewIndexer(store, emb, vecs),
	}
	t.Cleanup(c.Close)
	return c
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "messages.db")
	cfg.Storage.IndexPath = filepath.Join(dir, "messages.idx")
	cfg.Embedding.Dimensions = 8
	config.ApplyDefaults(cfg)
	return cfg
}

func seed(t *testing.T, s storage.Storage, ids ...string) {
	t.Helper()
	for _, id := range ids {
		msg := &models.Message{ID: id, ChatJID: "c@s", Sender: "Ana", Content: "message " + id}
		if _, err := s.SaveMessage(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPrepareIndex_warmsWithoutSnapshot(t *testing.T) {
	cfg := testConfig(t)
	c := newTestComponents(t, cfg)
	seed(t, c.Storage, "m1", "m2", "m3")

	stats := prepareIndex(context.Background(), c, cfg, zap.NewNop())
	if stats.Loaded != 3 || stats.Indexed != 3 {
		t.Errorf("stats = %+v, want 3 loaded and indexed", stats)
	}
	if c.VectorIndex.Size() != 3 {
		t.Errorf("index size = %d, want 3", c.VectorIndex.Size())
	}
}

func TestPrepareIndex_skipsWarmWhenSnapshotLoads(t *testing.T) {
	cfg := testConfig(t)
	c := newTestComponents(t, cfg)
	seed(t, c.Storage, "m1", "m2")
	prepareIndex(context.Background(), c, cfg, zap.NewNop())
	if err := c.VectorIndex.Save(cfg.Storage.IndexPath); err != nil {
		t.Fatal(err)
	}

	restarted := newTestComponents(t, cfg)
	stats := prepareIndex(context.Background(), restarted, cfg, zap.NewNop())
	if stats.Loaded != 0 {
		t.Errorf("warm ran after snapshot load: %+v", stats)
	}
	if restarted.VectorIndex.Size() != 2 {
		t.Errorf("index size = %d, want 2 (no duplicates)", restarted.VectorIndex.Size())
	}

	cfg.RAG.AlwaysWarm = true
	again := newTestComponents(t, cfg)
	stats = prepareIndex(context.Background(), again, cfg, zap.NewNop())
	if stats.Loaded != 2 || stats.Known != 2 || stats.Indexed != 0 {
		t.Errorf("always_warm: stats = %+v, want 2 loaded and known", stats)
	}
	if again.VectorIndex.Size() != 2 {
		t.Errorf("always_warm: index size = %d, want 2", again.VectorIndex.Size())
	}
}

func TestImportPath(t *testing.T) {
	cfg := testConfig(t)
	c := newTestComponents(t, cfg)
	dir := t.TempDir()
	lines := []string{
		`{"id":"1","chat_jid":"c@s","sender":"Ana","content":"see you at noon","timestamp":1700000000,"is_from_me":false}`,
		`{"id":"2","chat_jid":"c@s","sender":"Me","content":"ok","timestamp":1700000100,"is_from_me":true}`,
		`{"id":"3"}`,
	}
	path := filepath.Join(dir, "export.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	res, err := importPath(context.Background(), c.Indexer, dir, cfg.Inbox.Extensions, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	want := importer.Result{Files: 1, Lines: 3, Stored: 2, Indexed: 2, Invalid: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
	if _, err := os.Stat(path + importer.ImportedSuffix); err != nil {
		t.Errorf("export not marked imported: %v", err)
	}

	if _, err := importPath(context.Background(), c.Indexer, filepath.Join(dir, "missing"), nil, zap.NewNop()); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestLocalStatus(t *testing.T) {
	cfg := testConfig(t)
	c := newTestComponents(t, cfg)
	seed(t, c.Storage, "m1", "m2")
	prepareIndex(context.Background(), c, cfg, zap.NewNop())
	if err := c.VectorIndex.Save(cfg.Storage.IndexPath); err != nil {
		t.Fatal(err)
	}

	st, err := localStatus(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if st.Messages != 2 || st.Chats != 1 || st.IndexSize != 2 || st.Dimensions != 8 {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.DiskBytes <= 0 {
		t.Errorf("disk bytes = %d, want > 0", st.DiskBytes)
	}
}

func TestAskViaHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req models.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(models.ChatResponse{Status: "success", Answer: "echo: " + req.Query})
	}))
	defer ts.Close()

	resp, err := askViaHTTP(ts.URL, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "echo: hello" {
		t.Errorf("answer = %q", resp.Answer)
	}

	if _, err := askViaHTTP(ts.URL+"/nowhere", "hello"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestStatusViaHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":{"index_size":5,"dimensions":768,"messages":7,"chats":2},"config":{"top_k":8}}`))
	}))
	defer ts.Close()

	res, err := statusViaHTTP(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status.IndexSize != 5 || res.Status.Messages != 7 {
		t.Errorf("unexpected status: %+v", res.Status)
	}
}

func TestInboxClient(t *testing.T) {
	var dirs []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Path string `json:"path"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			dirs = append(dirs, body.Path)
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			dirs = nil
		default:
			_ = json.NewEncoder(w).Encode(map[string][]string{"directories": dirs})
		}
	}))
	defer ts.Close()

	if err := inboxAdd(ts.URL, "/tmp/exports"); err != nil {
		t.Fatal(err)
	}
	got, err := inboxList(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"/tmp/exports"}) {
		t.Errorf("list = %v", got)
	}
	if err := inboxRemove(ts.URL, "/tmp/exports"); err != nil {
		t.Fatal(err)
	}
	got, _ = inboxList(ts.URL)
	if len(got) != 0 {
		t.Errorf("list after remove = %v", got)
	}
}

func TestFindLocal(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./messages.db"
  index_path: "./messages.idx"
  keyword_index_path: "./messages.bleve"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := vector.NewMemoryIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	ix := indexer.NewIndexer(store, embedding.NewMockEmbedder(8), vecs, indexer.WithKeywordIndex(kw))
	msg := &models.Message{ID: "m1", ChatJID: "ana@s", Sender: "Ana", Content: "passport renewal"}
	if _, err := ix.Ingest(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	_ = kw.Close()
	_ = store.Close()

	resp, err := findLocal(configPath, "passport", 10, &keyword.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].Message.ID != "m1" {
		t.Errorf("unexpected results: %+v", resp)
	}
}

func TestFindViaHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/v1/messages/search" || q.Get("q") != "pasport" || q.Get("fuzzy") != "true" || q.Get("chat") != "ana@s" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(models.FindResponse{
			Query:   q.Get("q"),
			Total:   1,
			Results: []*models.MessageMatch{{Message: &models.Message{ID: "m1"}, Score: 1}},
		})
	}))
	defer ts.Close()

	resp, err := findViaHTTP(ts.URL, "pasport", 5, &keyword.SearchOptions{FuzzyEnabled: true, ChatJID: "ana@s"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].Message.ID != "m1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if _, err := findViaHTTP(ts.URL, "other", 5, &keyword.SearchOptions{}); err == nil {
		t.Error("expected error for non-200 response")
	}
}
