package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/constants"
	"github.com/kozaktomas/face-gate/internal/database"
)

func TestParseBBoxFlag(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []float64
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"valid", "10, 20,30,40.5", []float64{10, 20, 30, 40.5}, false},
		{"too few", "1,2,3", nil, true},
		{"not a number", "1,2,x,4", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBBoxFlag(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseBBoxFlag(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseBBoxFlag(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("parseBBoxFlag(%q) = %v, want %v", tt.in, got, tt.want)
				}
			}
		})
	}
}

func TestScanImageDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Jan Novák.jpg", "anna.PNG", "notes.txt", "  .jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o700); err != nil {
		t.Fatal(err)
	}

	files, err := scanImageDir(dir)
	if err != nil {
		t.Fatalf("scanImageDir failed: %v", err)
	}

	got := map[string]string{}
	for _, f := range files {
		got[f.identity] = filepath.Base(f.path)
	}
	want := map[string]string{
		"Jan-Novak": "Jan Novák.jpg",
		"anna":      "anna.PNG",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for id, name := range want {
		if got[id] != name {
			t.Errorf("identity %q: expected %q, got %q", id, name, got[id])
		}
	}
}

func TestReadImageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "face.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}

	data, err := readImageFile(path)
	if err != nil || string(data) != "jpeg" {
		t.Errorf("readImageFile = %q, %v", data, err)
	}
	if _, err := readImageFile(dir); err == nil {
		t.Error("expected error for a directory")
	}
	if _, err := readImageFile(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("expected error for a missing file")
	}

	big := filepath.Join(dir, "big.jpg")
	f, err := os.Create(big)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(constants.MaxImageFileSize + 1); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, err := readImageFile(big); err == nil {
		t.Error("expected error for an oversized file")
	}
}

func TestOpenBackend(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		_, err := openBackend(context.Background(), &config.DatabaseConfig{})
		if !errors.Is(err, database.ErrBackendNotConfigured) {
			t.Errorf("expected ErrBackendNotConfigured, got %v", err)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gate.db")
		b, err := openBackend(context.Background(), &config.DatabaseConfig{SQLitePath: path})
		if err != nil {
			t.Fatalf("openBackend failed: %v", err)
		}
		defer b.Close()
		if b.Name != "sqlite" {
			t.Errorf("expected sqlite backend, got %q", b.Name)
		}
	})
}
