package importer_test

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bookplayer/internal/config"
	"bookplayer/internal/importer"
	"bookplayer/internal/library"
	"bookplayer/internal/testsupport"
)

func newImporter(t *testing.T) (*importer.Importer, *library.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	lib := testsupport.MustOpenLibrary(t, cfg)
	return importer.New(cfg, lib), lib, cfg
}

func stageFile(t *testing.T, cfg *config.Config, name, contents string) string {
	t.Helper()
	path := filepath.Join(cfg.Paths.InboxDir, name)
	testsupport.WriteFile(t, path, contents)
	return path
}

func TestImportPlacesContentAddressedFile(t *testing.T) {
	imp, lib, cfg := newImporter(t)
	source := stageFile(t, cfg, "My_Great Book.mp3", "audio bytes")

	result, err := imp.ImportBatch(context.Background(), []string{source}, "")
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if len(result.Imported) != 1 || len(result.Skipped) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	item := result.Imported[0]
	if !strings.HasSuffix(item.OriginalFileName, ".mp3") {
		t.Fatalf("extension lost: %s", item.OriginalFileName)
	}
	if len(item.OriginalFileName) != 64+len(".mp3") {
		t.Fatalf("filename is not a sha256 digest: %s", item.OriginalFileName)
	}
	if item.Title != "My Great Book" {
		t.Fatalf("title = %q", item.Title)
	}
	if !testsupport.FileExists(t, lib.AbsolutePath(item.RelativePath)) {
		t.Fatal("backing file missing at destination")
	}
	if testsupport.FileExists(t, source) {
		t.Fatal("source file still in inbox")
	}
}

func TestImportIsIdempotent(t *testing.T) {
	imp, lib, cfg := newImporter(t)
	first := stageFile(t, cfg, "copy-one.mp3", "identical bytes")
	second := stageFile(t, cfg, "copy-two.mp3", "identical bytes")

	resultA, err := imp.ImportBatch(context.Background(), []string{first}, "")
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	resultB, err := imp.ImportBatch(context.Background(), []string{second}, "")
	if err != nil {
		t.Fatalf("second import: %v", err)
	}

	pathA := resultA.Imported[0].RelativePath
	pathB := resultB.Imported[0].RelativePath
	if pathA != pathB {
		t.Fatalf("same bytes resolved to different paths: %s vs %s", pathA, pathB)
	}
	if len(lib.List()) != 1 {
		t.Fatalf("duplicate item created: %d items", len(lib.List()))
	}
	if testsupport.FileExists(t, second) {
		t.Fatal("duplicate source not consumed")
	}
}

func TestImportDirectoryFlattens(t *testing.T) {
	imp, _, cfg := newImporter(t)
	dir := filepath.Join(cfg.Paths.InboxDir, "box-set")
	testsupport.WriteFile(t, filepath.Join(dir, "part1.mp3"), "one")
	testsupport.WriteFile(t, filepath.Join(dir, "nested", "part2.mp3"), "two")
	testsupport.WriteFile(t, filepath.Join(dir, "cover.jpg"), "not audio")
	testsupport.WriteFile(t, filepath.Join(dir, ".hidden.mp3"), "hidden")

	result, err := imp.ImportBatch(context.Background(), []string{dir}, "")
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if len(result.Imported) != 2 {
		t.Fatalf("imported %d files, want 2", len(result.Imported))
	}
	if testsupport.FileExists(t, dir) {
		t.Fatal("source directory not removed")
	}
}

func TestImportZipArchive(t *testing.T) {
	imp, _, cfg := newImporter(t)
	archive := filepath.Join(cfg.Paths.InboxDir, "book.zip")
	writeZip(t, archive, map[string]string{
		"part1.mp3": "one",
		"part2.mp3": "two",
		"notes.txt": "not audio",
		".DS_Store": "junk",
	})

	result, err := imp.ImportBatch(context.Background(), []string{archive}, "")
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if len(result.Imported) != 2 {
		t.Fatalf("imported %d files, want 2", len(result.Imported))
	}
	if testsupport.FileExists(t, archive) {
		t.Fatal("archive not consumed")
	}

	// The scratch dir must not leak extraction leftovers.
	entries, err := os.ReadDir(cfg.ScratchDir())
	if err == nil && len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned: %d entries", len(entries))
	}
}

func TestUnreadableSourceSkipsAndContinues(t *testing.T) {
	imp, _, cfg := newImporter(t)
	good := stageFile(t, cfg, "good.mp3", "audio")
	missing := filepath.Join(cfg.Paths.InboxDir, "never-existed.mp3")

	result, err := imp.ImportBatch(context.Background(), []string{missing, good}, "")
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if len(result.Imported) != 1 {
		t.Fatalf("good file not imported: %+v", result)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Source != missing {
		t.Fatalf("missing file not recorded as skipped: %+v", result.Skipped)
	}
}

func TestUnrecognizedExtensionSkipped(t *testing.T) {
	imp, _, cfg := newImporter(t)
	source := stageFile(t, cfg, "notes.txt", "text")

	result, err := imp.ImportBatch(context.Background(), []string{source}, "")
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if len(result.Skipped) != 1 || len(result.Imported) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestImportIntoFolder(t *testing.T) {
	imp, lib, cfg := newImporter(t)
	if _, err := lib.CreateFolder(context.Background(), "Series", "", library.KindFolder); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	source := stageFile(t, cfg, "book.mp3", "audio")

	result, err := imp.ImportBatch(context.Background(), []string{source}, "Series")
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	item := result.Imported[0]
	if item.ParentPath() != "Series" {
		t.Fatalf("item not placed under folder: %s", item.RelativePath)
	}
	if !testsupport.FileExists(t, lib.AbsolutePath(item.RelativePath)) {
		t.Fatal("backing file missing under folder directory")
	}
}

func TestImportIntoMissingFolderFails(t *testing.T) {
	imp, _, cfg := newImporter(t)
	source := stageFile(t, cfg, "book.mp3", "audio")

	_, err := imp.ImportBatch(context.Background(), []string{source}, "NoSuchFolder")
	if !errors.Is(err, library.ErrNotContainer) {
		t.Fatalf("expected ErrNotContainer, got %v", err)
	}
}

func TestEmptyBatchReportsNothingToImport(t *testing.T) {
	imp, _, _ := newImporter(t)

	_, err := imp.ImportBatch(context.Background(), nil, "")
	if !errors.Is(err, importer.ErrNothingToImport) {
		t.Fatalf("expected ErrNothingToImport, got %v", err)
	}
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	writer := zip.NewWriter(file)
	for name, contents := range entries {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := entry.Write([]byte(contents)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close zip file: %v", err)
	}
}
