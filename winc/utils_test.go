package winc

import (
	"testing"
)

func testAlignWidth(width uint, align uint, expected uint, t *testing.T) {
	result := AlignWidth(width, align)
	if result != expected {
		t.Fatalf("%d align %d: Expected %d, got %d", width, align, expected, result)
	}
}

func TestAlignWidth_All(t *testing.T) {
	testAlignWidth(5, 4096, 4096, t)
	testAlignWidth(0, 4096, 0, t)
	testAlignWidth(4096, 4096, 4096, t)
	testAlignWidth(4097, 4096, 8192, t)
	testAlignWidth(255, 256, 256, t)
	testAlignWidth(257, 256, 512, t)
	testAlignWidth(33, 4, 36, t)
	testAlignWidth(37, 4, 40, t)
}

func TestMakePadding(t *testing.T) {
	result := MakePadding(1)
	if len(result) != 1 {
		t.Fatalf("Expected exactly one byte!")
	}
	if result[0] != 0xFF {
		t.Fatalf("Expected one byte to be 0xFF!")
	}
	result = MakePadding(233)
	if len(result) != 233 {
		t.Fatalf("Expected exactly 233 bytes!")
	}
	for i := range result {
		if result[i] != 0xFF {
			t.Fatalf("Expected byte [%d] to be 0xFF, was %d!", i, result[i])
		}
	}
}

func TestSectorCount(t *testing.T) {
	if SectorCount(0) != 0 {
		t.Fatalf("Expected 0 sectors for empty flash")
	}
	if SectorCount(SectorSize) != 1 {
		t.Fatalf("Expected 1 sector for one sector of bytes")
	}
	if SectorCount(SectorSize+1) != 2 {
		t.Fatalf("Expected 2 sectors for a sector plus a byte")
	}
	if SectorCount(1<<17) != 32 {
		t.Fatalf("Expected 32 sectors per megabit")
	}
}
