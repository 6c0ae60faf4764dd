package winc

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuildPllTable_Size(t *testing.T) {
	table := BuildPllTable(0)
	if len(table) != PllTableSize {
		t.Fatalf("Expected table size %d, got %d", PllTableSize, len(table))
	}
	if PllTableSize != 796 {
		t.Fatalf("Table layout changed! Expected 796 bytes, computed %d", PllTableSize)
	}
}

func TestBuildPllTable_Deterministic(t *testing.T) {
	offsets := []uint16{0, 1, 63, 64, 0x3FFF, 0x4000, 0x4001, 0x7FFF}
	for _, offset := range offsets {
		a := BuildPllTable(offset)
		b := BuildPllTable(offset)
		if !bytes.Equal(a, b) {
			t.Fatalf("Table for offset %d not deterministic!", offset)
		}
	}
}

func TestBuildPllTable_HeaderEchoesRawInput(t *testing.T) {
	// The header carries the raw unsigned efuse value even when the
	// computation re-centers it negative.
	offsets := []uint16{0, 0x4000, 0x4001, 0x7FFF}
	for _, offset := range offsets {
		table := BuildPllTable(offset)
		magic := binary.LittleEndian.Uint32(table[0:4])
		if magic != PllMagic {
			t.Fatalf("Expected magic %08x, got %08x", uint32(PllMagic), magic)
		}
		header := binary.LittleEndian.Uint32(table[4:8])
		if header != uint32(offset) {
			t.Fatalf("Expected header offset %d, got %d", offset, header)
		}
	}
}

func TestBuildPllTable_ChannelWordInvariants(t *testing.T) {
	table := NewPllTable(100)
	for ch, p := range table.Channels {
		if p.Pll1&(1<<31) == 0 {
			t.Fatalf("Channel %d pll1 missing top bit: %08x", ch, p.Pll1)
		}
		if p.Pll4&(1<<28) != 0 {
			t.Fatalf("Channel %d pll4 has dither bit set: %08x", ch, p.Pll4)
		}
		if p.TxN == 0 {
			t.Fatalf("Channel %d tx integer part should be nonzero", ch)
		}
		if p.RxN != 0 {
			t.Fatalf("Channel %d rx ratio is below one, expected zero integer part, got %d", ch, p.RxN)
		}
		if p.RxDec&(1<<31) != 0 || p.TxDec&(1<<31) != 0 {
			t.Fatalf("Channel %d dec fields must fit 31 bits", ch)
		}
	}
}

func TestBuildPllTable_ChannelSequence(t *testing.T) {
	table := NewPllTable(0)
	// Channels 0..12 follow a rising LO ladder, so their pll1 words
	// must strictly increase. Channel 13 sits apart above them all.
	for ch := 1; ch < NumChannels-1; ch++ {
		if table.Channels[ch].Pll1 <= table.Channels[ch-1].Pll1 {
			t.Fatalf("Expected pll1 to rise between channel %d and %d", ch-1, ch)
		}
	}
	last := table.Channels[NumChannels-1].Pll1
	if last <= table.Channels[NumChannels-2].Pll1 {
		t.Fatalf("Channel 14 override should sit above the ladder")
	}
}

func TestBuildPllTable_FreqWordSequence(t *testing.T) {
	table := NewPllTable(0)
	// Entries 2.. rise by 2MHz steps; entry 1 is the override and must
	// be far above its neighbors.
	for i := 3; i < NumFreqEntries; i++ {
		if table.FreqWords[i] <= table.FreqWords[i-1] {
			t.Fatalf("Expected freq word %d above word %d", i, i-1)
		}
	}
	if table.FreqWords[1] <= table.FreqWords[NumFreqEntries-1] {
		t.Fatalf("Override entry 1 should exceed the whole ladder")
	}
}

func TestBuildPllTable_RecenterThreshold(t *testing.T) {
	// 0x4000 is exactly 2^14 and must stay positive (strict greater-than
	// branch); 0x4001 wraps negative. A positive trim offset raises the
	// crystal estimate, so the packed divider words shrink; a negative
	// offset grows them.
	nominal := NewPllTable(0).FreqWords[0]
	atThreshold := NewPllTable(1 << 14).FreqWords[0]
	pastThreshold := NewPllTable(1<<14 + 1).FreqWords[0]
	if atThreshold >= nominal {
		t.Fatalf("Offset 2^14 should be treated as positive: %d >= %d", atThreshold, nominal)
	}
	if pastThreshold <= nominal {
		t.Fatalf("Offset 2^14+1 should be treated as negative: %d <= %d", pastThreshold, nominal)
	}
}

func TestBuildPllTable_OffsetScale(t *testing.T) {
	// Small neighboring offsets are below the quantization step of the
	// 19-bit fraction, so the tables must still differ somewhere across
	// a 64-step (1ppm) jump.
	a := BuildPllTable(0)
	b := BuildPllTable(64 * 100)
	if bytes.Equal(a, b) {
		t.Fatalf("100ppm trim change should alter the table")
	}
}

func TestParsePllTable_RoundTrip(t *testing.T) {
	table := NewPllTable(12345)
	parsed, err := ParsePllTable(table.Bytes())
	if err != nil {
		t.Fatalf("Error parsing built table: %s", err)
	}
	if *parsed != *table {
		t.Fatalf("Parse/build not transparent")
	}
}

func TestParsePllTable_Rejects(t *testing.T) {
	table := BuildPllTable(55)
	if _, err := ParsePllTable(table[:100]); err == nil {
		t.Fatalf("Expected error for short table")
	}
	table[0] ^= 0xFF
	if _, err := ParsePllTable(table); err == nil {
		t.Fatalf("Expected error for bad magic")
	}
}
