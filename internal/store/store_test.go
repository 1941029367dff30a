package store

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"configdeck/api/internal/jsondoc"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func parse(t *testing.T, raw string) any {
	t.Helper()
	doc, err := jsondoc.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func encode(t *testing.T, doc any) string {
	t.Helper()
	data, err := jsondoc.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	backend := NewFileBackend(fs, "/srv/data/data.json")

	s := NewDocumentStore(ctx, backend, quietLogger())
	doc, revision := s.Current()
	if got := encode(t, doc); got != `{}` {
		t.Fatalf("expected empty document, got %s", got)
	}

	payload := `{"data":{"zeta":1,"alpha":[{"b":2,"a":1}]}}`
	next, err := s.Replace(ctx, parse(t, payload), 0)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if next != revision+1 {
		t.Errorf("expected revision %d, got %d", revision+1, next)
	}

	raw, err := afero.ReadFile(fs, "/srv/data/data.json")
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	want := "{\n  \"data\": {\n    \"zeta\": 1,\n    \"alpha\": [\n      {\n        \"b\": 2,\n        \"a\": 1\n      }\n    ]\n  }\n}"
	if diff := cmp.Diff(want, string(raw)); diff != "" {
		t.Errorf("file contents mismatch (-want +got):\n%s", diff)
	}
	if exists, _ := afero.Exists(fs, "/srv/data/data.json.tmp"); exists {
		t.Error("temp file left behind")
	}

	reloaded := NewDocumentStore(ctx, backend, quietLogger())
	doc, _ = reloaded.Current()
	if diff := cmp.Diff(payload, encode(t, doc)); diff != "" {
		t.Errorf("reloaded document mismatch (-want +got):\n%s", diff)
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/data.json", []byte(`{"data": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewDocumentStore(context.Background(), NewFileBackend(fs, "/data.json"), quietLogger())
	doc, _ := s.Current()
	if got := encode(t, doc); got != `{}` {
		t.Errorf("expected empty document, got %s", got)
	}
}

func TestReplaceKeepsMemoryWhenWriteFails(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	s := NewDocumentStore(ctx, NewFileBackend(fs, "/data/data.json"), quietLogger())

	_, err := s.Replace(ctx, parse(t, `{"a":1}`), 0)
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	doc, _ := s.Current()
	if got := encode(t, doc); got != `{"a":1}` {
		t.Errorf("expected in-memory document to be replaced, got %s", got)
	}
}

func TestReplaceRevisionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore(ctx, NewFileBackend(afero.NewMemMapFs(), "/data.json"), quietLogger())
	_, revision := s.Current()

	if _, err := s.Replace(ctx, parse(t, `{"a":1}`), revision); err != nil {
		t.Fatalf("Replace with current revision failed: %v", err)
	}
	if _, err := s.Replace(ctx, parse(t, `{"a":2}`), revision); !errors.Is(err, ErrRevisionMismatch) {
		t.Fatalf("expected ErrRevisionMismatch, got %v", err)
	}
	doc, _ := s.Current()
	if got := encode(t, doc); got != `{"a":1}` {
		t.Errorf("stale replace must not apply, got %s", got)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewDocumentStore(ctx, NewFileBackend(fs, "/data.json"), quietLogger())
	if _, err := s.Replace(ctx, parse(t, `{"data":{"x":true}}`), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	raw, _ := afero.ReadFile(fs, "/data.json")
	if string(raw) != "{}" {
		t.Errorf("expected {} on disk, got %q", raw)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		query  string
		want   string
	}{
		{DriverSQLite, `SELECT 1 WHERE a=? AND b=?`, `SELECT 1 WHERE a=? AND b=?`},
		{DriverPostgres, `SELECT 1 WHERE a=? AND b=?`, `SELECT 1 WHERE a=$1 AND b=$2`},
	}
	for _, tt := range tests {
		if got := rebind(tt.driver, tt.query); got != tt.want {
			t.Errorf("rebind(%s) = %q, want %q", tt.driver, got, tt.want)
		}
	}
}
