package vdisk_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/thefcraft/vdisk"
)

func smallConfig(t *testing.T) vdisk.Config {
	t.Helper()
	cfg, err := vdisk.NewConfig(512, 128, 2048, 256)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

func TestCreateMemoryDiskHasEmptyRoot(t *testing.T) {
	d, err := vdisk.CreateMemoryDisk(smallConfig(t))
	if err != nil {
		t.Fatalf("CreateMemoryDisk: %v", err)
	}
	defer d.Close()

	names, err := d.Root().ListDir(false)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("fresh root has entries: %v", names)
	}
	isDir, err := d.Root().IsDir()
	if err != nil {
		t.Fatalf("IsDir: %v", err)
	}
	if !isDir {
		t.Fatal("root is not reported as a directory")
	}
}

func TestDiskSpaceAccounting(t *testing.T) {
	cfg := smallConfig(t)
	d, err := vdisk.CreateMemoryDisk(cfg)
	if err != nil {
		t.Fatalf("CreateMemoryDisk: %v", err)
	}
	defer d.Close()

	if d.TotalSpace() != cfg.DiskSize {
		t.Fatalf("TotalSpace() = %d, want %d", d.TotalSpace(), cfg.DiskSize)
	}
	if d.UsedSpace()+d.FreeSpace() != d.TotalSpace() {
		t.Fatalf("used(%d)+free(%d) != total(%d)", d.UsedSpace(), d.FreeSpace(), d.TotalSpace())
	}
	if d.ReservedSpace() == 0 {
		t.Fatal("ReservedSpace() is zero, want the header/bitmap/inode-table region")
	}

	freeBefore := d.FreeSpace()
	f, err := d.Root().Open("growth.bin", vdisk.ModeCreate|vdisk.ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Write(bytes.Repeat([]byte{0x42}, int(cfg.BlockSize)*3)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	if d.FreeSpace() >= freeBefore {
		t.Fatalf("FreeSpace() did not shrink after allocating blocks: before=%d after=%d", freeBefore, d.FreeSpace())
	}
}

func TestCreateFileDiskPersistsAcrossReopen(t *testing.T) {
	cfg := smallConfig(t)
	path := filepath.Join(t.TempDir(), "disk.img")

	d, err := vdisk.CreateFileDisk(path, cfg)
	if err != nil {
		t.Fatalf("CreateFileDisk: %v", err)
	}
	if _, err := d.Root().Mkdir("home", false); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	home, err := d.Root().Chdir("home")
	if err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	f, err := home.Open("home.txt", vdisk.ModeCreate|vdisk.ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Write([]byte("hello from home")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close file: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close disk: %v", err)
	}

	reopened, err := vdisk.OpenFileDisk(path)
	if err != nil {
		t.Fatalf("OpenFileDisk: %v", err)
	}
	defer reopened.Close()

	home2, err := reopened.Root().Chdir("home")
	if err != nil {
		t.Fatalf("Chdir after reopen: %v", err)
	}
	f2, err := home2.Open("home.txt", vdisk.ModeRead)
	if err != nil {
		t.Fatalf("Open after reopen: %v", err)
	}
	defer f2.Close()

	buf := make([]byte, 64)
	n, _ := f2.Read(buf) // a short read returns n < len(buf); io.EOF comes only with n == 0
	if string(buf[:n]) != "hello from home" {
		t.Fatalf("read back %q, want %q", buf[:n], "hello from home")
	}
}

func TestCreateEncryptedFileDiskWrongPasswordFails(t *testing.T) {
	cfg := smallConfig(t)
	path := filepath.Join(t.TempDir(), "secret.img")

	d, err := vdisk.CreateEncryptedFileDisk(path, cfg, []byte("right password"))
	if err != nil {
		t.Fatalf("CreateEncryptedFileDisk: %v", err)
	}
	f, err := d.Root().Open("secret.txt", vdisk.ModeCreate|vdisk.ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Write([]byte("top secret"))
	f.Close()
	d.Close()

	if _, err := vdisk.OpenEncryptedFileDisk(path, []byte("wrong password")); !errors.Is(err, vdisk.ErrAuth) {
		t.Fatalf("OpenEncryptedFileDisk wrong password: got %v, want ErrAuth", err)
	}

	reopened, err := vdisk.OpenEncryptedFileDisk(path, []byte("right password"))
	if err != nil {
		t.Fatalf("OpenEncryptedFileDisk right password: %v", err)
	}
	defer reopened.Close()

	f2, err := reopened.Root().Open("secret.txt", vdisk.ModeRead)
	if err != nil {
		t.Fatalf("Open after reopen: %v", err)
	}
	defer f2.Close()
	buf := make([]byte, 10)
	if _, err := f2.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "top secret" {
		t.Fatalf("got %q, want %q", buf, "top secret")
	}
}

func TestOpenFileDiskRejectsCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.img")
	c, err := vdisk.CreateFileContainer(path, 256)
	if err != nil {
		t.Fatalf("CreateFileContainer: %v", err)
	}
	// disk-type byte 0x00 (plain) but no valid config header behind it.
	c.WriteAt([]byte{0x00}, 0)
	c.Close()

	if _, err := vdisk.OpenFileDisk(path); err == nil {
		t.Fatal("expected error opening a disk with a bogus header")
	}
}

func TestDiskFillsUpAndReturnsErrFull(t *testing.T) {
	cfg, err := vdisk.NewConfig(128, 64, 96, 32)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	d, err := vdisk.CreateMemoryDisk(cfg)
	if err != nil {
		t.Fatalf("CreateMemoryDisk: %v", err)
	}
	defer d.Close()

	f, err := d.Root().Open("big.bin", vdisk.ModeCreate|vdisk.ModeWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	chunk := bytes.Repeat([]byte{0x7}, int(cfg.BlockSize))
	var writeErr error
	for i := 0; i < int(cfg.NumBlocks)+4; i++ {
		if _, writeErr = f.Write(chunk); writeErr != nil {
			break
		}
	}
	if !errors.Is(writeErr, vdisk.ErrFull) {
		t.Fatalf("expected ErrFull once the disk is exhausted, got %v", writeErr)
	}
}
