package storage_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"fedibot/internal/infra/storage"
)

func TestDocumentGetSet(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		sets map[string]any
		path string
		want any
	}{
		{
			name: "missingTopLevelKey",
			sets: map[string]any{},
			path: "absent",
			want: nil,
		},
		{
			name: "missingIntermediateNode",
			sets: map[string]any{"a.b": 1},
			path: "x.y.z",
			want: nil,
		},
		{
			name: "nestedSetCreatesIntermediates",
			sets: map[string]any{"telegram_parser.offsets.chat": 42},
			path: "telegram_parser.offsets.chat",
			want: 42,
		},
		{
			name: "leafIsNotTraversable",
			sets: map[string]any{"a": "leaf"},
			path: "a.b",
			want: nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			doc, err := storage.LoadDocument(filepath.Join(t.TempDir(), "state.yaml"))
			if err != nil {
				t.Fatalf("LoadDocument() error = %v", err)
			}
			for path, value := range tc.sets {
				doc.Set(path, value)
			}
			if got := doc.Get(tc.path); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Get(%q) = %#v, want %#v", tc.path, got, tc.want)
			}
		})
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.yaml")

	doc, err := storage.LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument() error = %v", err)
	}
	doc.SetHashed("https://example.org/feed", map[string]any{
		"urls_seen": []string{"//example.org/a", "//example.org/b"},
	})
	doc.Set("entity_100", []int{3, 5, 8})
	if err := doc.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	reloaded, err := storage.LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument() after write error = %v", err)
	}

	seen := storage.Strings(reloaded.Get(storage.HashKey("https://example.org/feed") + ".urls_seen"))
	if want := []string{"//example.org/a", "//example.org/b"}; !reflect.DeepEqual(seen, want) {
		t.Fatalf("urls_seen = %#v, want %#v", seen, want)
	}

	ids := storage.Ints(reloaded.Get("entity_100"))
	if want := []int{3, 5, 8}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("entity ids = %#v, want %#v", ids, want)
	}
}

func TestLoadDocumentMissingFile(t *testing.T) {
	t.Parallel()

	doc, err := storage.LoadDocument(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadDocument() error = %v", err)
	}
	if got := doc.Get("anything"); got != nil {
		t.Fatalf("Get() on empty document = %#v, want nil", got)
	}
}

func TestLoadDocumentMalformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := storage.LoadDocument(path)
	if !errors.Is(err, storage.ErrMalformed) {
		t.Fatalf("LoadDocument() error = %v, want ErrMalformed", err)
	}
}

func TestAtomicWriteFileReplaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "file.bin")
	if err := storage.AtomicWriteFile(path, []byte("first")); err != nil {
		t.Fatalf("AtomicWriteFile() error = %v", err)
	}
	if err := storage.AtomicWriteFile(path, []byte("second")); err != nil {
		t.Fatalf("AtomicWriteFile() overwrite error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("file content = %q, want %q", data, "second")
	}
}

func TestReadFileIfExists(t *testing.T) {
	t.Parallel()

	data, err := storage.ReadFileIfExists(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("ReadFileIfExists() error = %v", err)
	}
	if data != nil {
		t.Fatalf("ReadFileIfExists() = %#v, want nil", data)
	}
}
