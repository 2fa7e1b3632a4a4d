package vdisk_test

import (
	"strings"
	"testing"

	"github.com/thefcraft/vdisk"
)

func TestNewConfigDerivesWidths(t *testing.T) {
	cfg, err := vdisk.NewConfig(1024, 64, 4096, 1024)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.BlockAddrLength != 2 {
		t.Errorf("BlockAddrLength = %d, want 2 (4096 needs 13 bits -> 2 bytes)", cfg.BlockAddrLength)
	}
	if cfg.InodeAddrLength != 2 {
		t.Errorf("InodeAddrLength = %d, want 2 (1024 needs 11 bits -> 2 bytes)", cfg.InodeAddrLength)
	}
	if cfg.AddrsPerBlock != cfg.BlockSize/uint64(cfg.BlockAddrLength) {
		t.Errorf("AddrsPerBlock = %d, want %d", cfg.AddrsPerBlock, cfg.BlockSize/uint64(cfg.BlockAddrLength))
	}
	if cfg.DiskSize != 1024*4096 {
		t.Errorf("DiskSize = %d, want %d", cfg.DiskSize, 1024*4096)
	}
	wantDouble := cfg.AddrsPerBlock * cfg.AddrsPerBlock
	if cfg.DoubleRange != wantDouble {
		t.Errorf("DoubleRange = %d, want %d", cfg.DoubleRange, wantDouble)
	}
}

func TestNewConfigRejectsZeroFields(t *testing.T) {
	cases := []struct {
		name                                       string
		blockSize, inodeSize, numBlocks, numInodes uint64
	}{
		{"zero block size", 0, 64, 100, 100},
		{"zero inode size", 512, 0, 100, 100},
		{"zero num blocks", 512, 64, 0, 100},
		{"zero num inodes", 512, 64, 100, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := vdisk.NewConfig(c.blockSize, c.inodeSize, c.numBlocks, c.numInodes); err == nil {
				t.Fatalf("expected error for %s", c.name)
			}
		})
	}
}

func TestNewConfigRejectsInodeTooSmall(t *testing.T) {
	if _, err := vdisk.NewConfig(512, 1, 100, 100); err == nil {
		t.Fatal("expected error when inode_size can't hold a record")
	}
}

func TestNewConfigRejectsBlockTooSmallForAddress(t *testing.T) {
	// block_size smaller than a single block address is unusable for
	// indirection: 1<<20 blocks need 3-byte addresses, more than 2 bytes.
	if _, err := vdisk.NewConfig(2, 64, 1<<20, 100); err == nil {
		t.Fatal("expected error")
	}
}

func TestConfigStringIncludesFields(t *testing.T) {
	cfg, err := vdisk.NewConfig(1024, 64, 4096, 1024)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	s := cfg.String()
	for _, want := range []string{"block_size=1024", "inode_size=64", "num_blocks=4096", "num_inodes=1024"} {
		if !strings.Contains(s, want) {
			t.Fatalf("String() = %q, missing %q", s, want)
		}
	}
}
