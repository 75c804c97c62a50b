package pluginhost

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalFetcher_copiesIntoDestDir(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "wifi.so"), []byte("fake artifact"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	destDir := t.TempDir()
	f := LocalFetcher{}
	path, err := f.Fetch(context.Background(), FetchSpec{
		Kind: LocationLocal, BasePath: srcDir, Name: "wifi.so", DestDir: destDir,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if filepath.Dir(path) != destDir {
		t.Errorf("path = %q, want under %q", path, destDir)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "fake artifact" {
		t.Errorf("content = %q", got)
	}
}

func TestLocalFetcher_noDestDirReturnsSourcePath(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "wifi.so"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	f := LocalFetcher{}
	path, err := f.Fetch(context.Background(), FetchSpec{Kind: LocationLocal, BasePath: srcDir, Name: "wifi.so"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if path != filepath.Join(srcDir, "wifi.so") {
		t.Errorf("path = %q", path)
	}
}

func TestLocalFetcher_missingArtifact(t *testing.T) {
	f := LocalFetcher{}
	_, err := f.Fetch(context.Background(), FetchSpec{Kind: LocationLocal, BasePath: t.TempDir(), Name: "missing.so"})
	if err == nil {
		t.Fatal("expected an error for a missing artifact")
	}
}

func TestFetcherFor(t *testing.T) {
	cases := []struct {
		kind    LocationKind
		wantErr bool
	}{
		{LocationLocal, false},
		{LocationUNC, false},
		{LocationS3, false},
		{LocationKind("ftp"), true},
	}
	for _, c := range cases {
		_, err := FetcherFor(c.kind)
		if (err != nil) != c.wantErr {
			t.Errorf("FetcherFor(%q) error = %v, wantErr %v", c.kind, err, c.wantErr)
		}
	}
}
