package preprocess_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forge/internal/preprocess"
	"forge/internal/testsupport"
)

func TestMergeChaptersOrdersByNumericPrefix(t *testing.T) {
	dir := t.TempDir()
	pdfs := []string{"10 - Ending.pdf", "2_Middle.PDF", "01.Intro.pdf", "appendix.pdf"}
	testsupport.WriteText(t, filepath.Join(dir, "10 - Ending.txt"), "the end\n")
	testsupport.WriteText(t, filepath.Join(dir, "2_Middle.txt"), "  middle  ")
	testsupport.WriteText(t, filepath.Join(dir, "01.Intro.txt"), "intro")
	testsupport.WriteText(t, filepath.Join(dir, "appendix.txt"), "appendix")

	n, err := preprocess.MergeChapters(dir, pdfs)
	if err != nil {
		t.Fatalf("MergeChapters: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 chapters, got %d", n)
	}

	data, err := os.ReadFile(filepath.Join(dir, preprocess.MergedChaptersFile))
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	want := "--- 01.Intro.pdf ---\n\nintro\n\n\n--- 2_Middle.PDF ---\n\nmiddle\n\n\n--- 10 - Ending.pdf ---\n\nthe end"
	if string(data) != want {
		t.Fatalf("merged content mismatch:\n%q\nwant\n%q", data, want)
	}
	for _, gone := range []string{"01.Intro.txt", "2_Middle.txt", "10 - Ending.txt"} {
		if _, err := os.Stat(filepath.Join(dir, gone)); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed", gone)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "appendix.txt")); err != nil {
		t.Fatalf("non-chapter text should remain: %v", err)
	}
}

func TestMergeChaptersNeedsTwoChapters(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteText(t, filepath.Join(dir, "01 Only.txt"), "solo")
	n, err := preprocess.MergeChapters(dir, []string{"01 Only.pdf", "notes.pdf"})
	if err != nil || n != 0 {
		t.Fatalf("expected no merge, got %d, %v", n, err)
	}
	if _, err := os.Stat(filepath.Join(dir, preprocess.MergedChaptersFile)); !os.IsNotExist(err) {
		t.Fatal("merged file should not exist")
	}
}

func TestMergeChaptersWithoutText(t *testing.T) {
	dir := t.TempDir()
	n, err := preprocess.MergeChapters(dir, []string{"01 a.pdf", "02 b.pdf"})
	if err != nil || n != 0 {
		t.Fatalf("expected no merge without text, got %d, %v", n, err)
	}
}

func TestListInputs(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteText(t, filepath.Join(dir, "a.PDF"), "x")
	testsupport.WriteText(t, filepath.Join(dir, "b.md"), "x")
	testsupport.WriteText(t, filepath.Join(dir, "c.MD"), "x")
	if err := os.Mkdir(filepath.Join(dir, "d.pdf"), 0o755); err != nil {
		t.Fatal(err)
	}
	pdfs, err := preprocess.ListPDFs(dir)
	if err != nil || strings.Join(pdfs, ",") != "a.PDF" {
		t.Fatalf("ListPDFs = %v, %v", pdfs, err)
	}
	md, err := preprocess.ListMarkdown(dir)
	if err != nil || strings.Join(md, ",") != "b.md" {
		t.Fatalf("ListMarkdown = %v, %v", md, err)
	}
	missing, err := preprocess.ListPDFs(filepath.Join(dir, "nope"))
	if err != nil || missing != nil {
		t.Fatalf("missing dir: %v, %v", missing, err)
	}
}

func TestSnapshotRemoveNew(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteText(t, filepath.Join(dir, "keep.md"), "x")
	snap, err := preprocess.SnapshotDir(dir)
	if err != nil {
		t.Fatalf("SnapshotDir: %v", err)
	}
	testsupport.WriteText(t, filepath.Join(dir, "partial.md"), "x")
	testsupport.WriteText(t, filepath.Join(dir, "sub", "page.md"), "x")

	removed, err := snap.RemoveNew()
	if err != nil {
		t.Fatalf("RemoveNew: %v", err)
	}
	if strings.Join(removed, ",") != "partial.md,sub" {
		t.Fatalf("unexpected removed %v", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.md")); err != nil {
		t.Fatalf("pre-existing file removed: %v", err)
	}
}
