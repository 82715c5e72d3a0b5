package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewCatalogEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    string
		path     string
		size     int64
		modified int64
		wantErr  bool
	}{
		{"valid file", "a.txt", "/data/a.txt", 12, 1700000000, false},
		{"valid directory", "sub", "/data/sub", 0, 0, false},
		{"relative path", "a.txt", "data/a.txt", 1, 1, true},
		{"empty name", "", "/data/a.txt", 1, 1, true},
		{"negative size", "a.txt", "/data/a.txt", -1, 1, true},
		{"negative modified", "a.txt", "/data/a.txt", 1, -5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewCatalogEntry(tt.entry, tt.path, tt.size, tt.modified)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewCatalogEntry() expected error, got %+v", e)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCatalogEntry() unexpected error: %v", err)
			}
			if e.Name != tt.entry || e.Path != tt.path || e.Size != tt.size || e.ModifiedAt != tt.modified {
				t.Errorf("NewCatalogEntry() = %+v", e)
			}
		})
	}
}

func TestEntryFromFileInfo(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "hello.txt")
	if err := os.WriteFile(filePath, []byte("hello"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	mtime := time.Unix(1700000000, 0)
	if err := os.Chtimes(filePath, mtime, mtime); err != nil {
		t.Fatalf("Failed to set mtime: %v", err)
	}
	dirPath := filepath.Join(tmpDir, "sub")
	if err := os.Mkdir(dirPath, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	fileInfo, err := os.Lstat(filePath)
	if err != nil {
		t.Fatalf("Lstat() error = %v", err)
	}
	e, err := EntryFromFileInfo(filePath, fileInfo)
	if err != nil {
		t.Fatalf("EntryFromFileInfo() error = %v", err)
	}
	want := CatalogEntry{Name: "hello.txt", Path: filePath, Size: 5, ModifiedAt: 1700000000}
	if e != want {
		t.Errorf("EntryFromFileInfo(file) = %+v, want %+v", e, want)
	}

	dirInfo, err := os.Lstat(dirPath)
	if err != nil {
		t.Fatalf("Lstat() error = %v", err)
	}
	d, err := EntryFromFileInfo(dirPath, dirInfo)
	if err != nil {
		t.Fatalf("EntryFromFileInfo() error = %v", err)
	}
	wantDir := CatalogEntry{Name: "sub", Path: dirPath}
	if d != wantDir {
		t.Errorf("EntryFromFileInfo(dir) = %+v, want %+v", d, wantDir)
	}
}

func TestHealth_String(t *testing.T) {
	if Healthy.String() != "healthy" || Corrupt.String() != "corrupt" {
		t.Errorf("Health strings = %q, %q", Healthy.String(), Corrupt.String())
	}
}
