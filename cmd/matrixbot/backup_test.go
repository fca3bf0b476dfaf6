package main

import (
	"archive/tar"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	dbPath := filepath.Join(src, "bot.sqlite")
	cfgPath := filepath.Join(src, "config.yaml")
	writeFile(t, dbPath, "db-bytes")
	writeFile(t, dbPath+"-wal", "wal-bytes")
	writeFile(t, cfgPath, "bot:\n  commandPrefix: '!bot '\n")

	files := backupFiles(dbPath, cfgPath)
	if len(files) != 3 {
		t.Fatalf("expected db, wal and config, got %v", files)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	dst := t.TempDir()
	newDB := filepath.Join(dst, "data", "restored.db")
	newCfg := filepath.Join(dst, "config.yaml")
	restored, err := extractTarGz(archive, newDB, newCfg)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 3 {
		t.Fatalf("expected 3 restored files, got %v", restored)
	}

	for path, want := range map[string]string{
		newDB:          "db-bytes",
		newDB + "-wal": "wal-bytes",
		newCfg:         "bot:\n  commandPrefix: '!bot '\n",
	} {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if string(got) != want {
			t.Errorf("expected %q in %s, got %q", want, path, got)
		}
	}

	info, err := os.Stat(newCfg)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected restored config to be 0600, got %v", info.Mode().Perm())
	}
}

func TestBackupFilesSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "{}")

	files := backupFiles(filepath.Join(dir, "missing.db"), cfgPath)
	if len(files) != 1 || files[0].name != archiveConfigName {
		t.Fatalf("expected only the config, got %v", files)
	}
}

func TestRestoreSkipsUnknownMembers(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "odd.tar.gz")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	body := []byte("payload")
	if err := tw.WriteHeader(&tar.Header{Name: "../../etc/passwd", Mode: 0o644, Size: int64(len(body))}); err != nil {
		t.Fatal(err)
	}
	tw.Write(body)
	tw.Close()
	gz.Close()
	f.Close()

	dst := t.TempDir()
	restored, err := extractTarGz(archive, filepath.Join(dst, "bot.db"), filepath.Join(dst, "config.yaml"))
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 0 {
		t.Fatalf("expected unknown members to be skipped, got %v", restored)
	}
}

func TestRestoreRejectsNonGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	writeFile(t, path, "not an archive")

	if _, err := extractTarGz(path, filepath.Join(t.TempDir(), "x.db"), filepath.Join(t.TempDir(), "c.yaml")); err == nil {
		t.Fatal("expected error for non-gzip input")
	}
}
