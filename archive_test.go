package vdisk_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/thefcraft/vdisk"
)

func TestExportImportImageRoundTrip(t *testing.T) {
	cfg := smallConfig(t)
	imgPath := filepath.Join(t.TempDir(), "disk.img")

	d, err := vdisk.CreateFileDisk(imgPath, cfg)
	if err != nil {
		t.Fatalf("CreateFileDisk: %v", err)
	}
	f, err := d.Root().Open("payload.txt", vdisk.ModeCreate|vdisk.ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Write([]byte("archived content"))
	f.Close()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	original, err := os.ReadFile(imgPath)
	if err != nil {
		t.Fatalf("ReadFile original: %v", err)
	}

	var archive bytes.Buffer
	if err := vdisk.ExportImage(&archive, imgPath, "gzip"); err != nil {
		t.Fatalf("ExportImage: %v", err)
	}
	if archive.Len() == 0 {
		t.Fatal("ExportImage produced an empty archive")
	}

	restoredPath := filepath.Join(t.TempDir(), "restored.img")
	if err := vdisk.ImportImage(restoredPath, &archive, "gzip"); err != nil {
		t.Fatalf("ImportImage: %v", err)
	}

	restored, err := os.ReadFile(restoredPath)
	if err != nil {
		t.Fatalf("ReadFile restored: %v", err)
	}
	if !bytes.Equal(original, restored) {
		t.Fatal("restored image bytes differ from the original")
	}

	opened, err := vdisk.OpenFileDisk(restoredPath)
	if err != nil {
		t.Fatalf("OpenFileDisk on restored image: %v", err)
	}
	defer opened.Close()
	f2, err := opened.Root().Open("payload.txt", vdisk.ModeRead)
	if err != nil {
		t.Fatalf("Open restored payload.txt: %v", err)
	}
	defer f2.Close()
	buf := make([]byte, 32)
	n, _ := f2.Read(buf)
	if string(buf[:n]) != "archived content" {
		t.Fatalf("restored payload.txt = %q, want %q", buf[:n], "archived content")
	}
}

func TestImportImageFailsIfDestinationExists(t *testing.T) {
	dir := t.TempDir()
	dstPath := filepath.Join(dir, "exists.img")
	if err := os.WriteFile(dstPath, []byte("already here"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var archive bytes.Buffer
	vdisk.ExportImage(&archive, dstPath, "gzip")

	if err := vdisk.ImportImage(dstPath, &archive, "gzip"); err == nil {
		t.Fatal("expected error importing over an existing file")
	}
}

func TestExportImageUnknownCodecFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.bin")
	os.WriteFile(path, []byte("data"), 0o644)

	var buf bytes.Buffer
	if err := vdisk.ExportImage(&buf, path, "not-a-real-codec"); err == nil {
		t.Fatal("expected error for an unregistered codec name")
	}
}
