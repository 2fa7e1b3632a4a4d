package vdisk_test

import (
	"testing"
	"time"

	"github.com/thefcraft/vdisk"
)

// decodeInode/encodeInode and the Inode struct's wire format are internal;
// they're exercised here through Directory/FileHandle, their only callers,
// checking that mode and timestamps survive a close/reopen round trip.

func TestInodeRoundTripsModeAndTimestamps(t *testing.T) {
	cfg := smallConfig(t)
	d, err := vdisk.CreateMemoryDisk(cfg)
	if err != nil {
		t.Fatalf("CreateMemoryDisk: %v", err)
	}
	defer d.Close()

	before := time.Now().Unix()
	f, err := d.Root().Open("timed.txt", vdisk.ModeCreate|vdisk.ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Write([]byte("x"))
	f.Close()

	_, in, ok, err := d.Root().GetChildInode("timed.txt")
	if err != nil {
		t.Fatalf("GetChildInode: %v", err)
	}
	if !ok {
		t.Fatal("timed.txt not found")
	}
	if in.Mode != vdisk.ModeRegularFile {
		t.Fatalf("Mode = %v, want RegularFile", in.Mode)
	}
	if in.Mtime < uint64(before) {
		t.Fatalf("Mtime %d predates the write (started at %d)", in.Mtime, before)
	}
	if in.Size != 1 {
		t.Fatalf("Size = %d, want 1", in.Size)
	}
}

func TestDirectoryInodeReportsDirectoryMode(t *testing.T) {
	d, err := vdisk.CreateMemoryDisk(smallConfig(t))
	if err != nil {
		t.Fatalf("CreateMemoryDisk: %v", err)
	}
	defer d.Close()

	sub, err := d.Root().Mkdir("sub", false)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if sub.Inode().Mode != vdisk.ModeDirectory {
		t.Fatalf("sub.Inode().Mode = %v, want Directory", sub.Inode().Mode)
	}
}

func TestInodeModeString(t *testing.T) {
	if vdisk.ModeRegularFile.String() != "RegularFile" {
		t.Fatalf("ModeRegularFile.String() = %q", vdisk.ModeRegularFile.String())
	}
	if vdisk.ModeDirectory.String() != "Directory" {
		t.Fatalf("ModeDirectory.String() = %q", vdisk.ModeDirectory.String())
	}
}

func TestFileModeStringAndHas(t *testing.T) {
	m := vdisk.ModeCreate | vdisk.ModeWrite | vdisk.ModeExclusive
	if !m.Has(vdisk.ModeCreate) || !m.Has(vdisk.ModeWrite) {
		t.Fatal("Has() did not report set flags")
	}
	if m.Has(vdisk.ModeAppend) {
		t.Fatal("Has() reported an unset flag")
	}
	if m.String() == "" {
		t.Fatal("String() returned empty for a non-zero FileMode")
	}
}
