package winc

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// Sentinel at the head of the PLL table. The WINC radio firmware
	// refuses tables that don't start with it.
	PllMagic = 0x12345675

	NumChannels    = 14 // 2.4GHz wifi channels 1-14
	NumFreqEntries = 85

	// Full serialized table: 8 byte header, 14 channel records of
	// 8 uint32 each, then 85 packed frequency words.
	PllTableSize = 8 + NumChannels*32 + NumFreqEntries*4

	// Crystal reference in MHz. The VCO runs at twice this, corrected
	// by the per-chip trim offset.
	xoFreq = 26.0

	// Channel LO sequence: 4824MHz + 10MHz per channel, except channel
	// 14 which sits apart from the others.
	channelLoBase     = 4824.0
	channelLoStep     = 10.0
	channel14Lo       = 4968.0
	freqTableBase     = 3840.0
	freqTableStep     = 2.0
	freqTableOverride = 4802.0 // entry 1 is special-cased like channel 14

	fracBits = 19 // fractional width of the n/f split in PLL words
)

// Per-channel synthesizer parameters, in the exact field order the
// chip expects them on flash.
type ChannelParam struct {
	Pll1  uint32
	Pll4  uint32
	RxN   uint32
	RxDec uint32
	RxInv uint32
	TxN   uint32
	TxDec uint32
	TxInv uint32
}

// Decoded form of the full calibration table. FreqOffset here is the
// raw unsigned efuse value, NOT the re-centered signed quantity.
type PllTable struct {
	Magic      uint32
	FreqOffset uint32
	Channels   [NumChannels]ChannelParam
	FreqWords  [NumFreqEntries]uint32
}

// Split a positive ratio into its integer part and a rounded 19-bit
// fraction. A fraction that rounds all the way up carries into n.
func splitPllFraction(x float64) (uint32, uint32) {
	n := uint32(x)
	f := uint32((x-float64(n))*(1<<fracBits) + 0.5)
	if f >= 1<<fracBits {
		n++
		f = 0
	}
	return n, f
}

// Fixed-point encoding of a ratio as the chip's three-word form:
// truncated integer part, fraction rounded half away from zero into 31
// bits, and a truncated 19-bit reciprocal used by the radio firmware to
// normalize without dividing.
func fixedRatio(r float64) (n uint32, dec uint32, inv uint32) {
	n = uint32(r)
	dec = uint32(math.Round((r-float64(n))*(1<<31))) & 0x7FFFFFFF
	inv = uint32((1.0 / r) * (1 << fracBits))
	return
}

// Compute the calibration table for the given trim frequency offset.
// The offset is the raw 15-bit efuse field; values above 2^14 wrap
// negative. Pure and deterministic: same input, same bytes.
func NewPllTable(freqOffset uint16) *PllTable {
	signed := int32(freqOffset & 0x7FFF)
	if signed > 1<<14 {
		signed -= 1 << 15
	}
	xoOffset := float64(signed) / 64.0
	xoToVco := 2 * xoFreq * (1 + xoOffset/1000000.0)

	table := PllTable{
		Magic:      PllMagic,
		FreqOffset: uint32(freqOffset),
	}

	for ch := 0; ch < NumChannels; ch++ {
		lo := channelLoBase + channelLoStep*float64(ch)
		if ch == NumChannels-1 {
			lo = channel14Lo
		}
		n2, f := splitPllFraction(lo / xoToVco)
		// Recompute the LO the quantized divider actually hits, so the
		// second stage doesn't inherit the rounding error of the first.
		loActual := (float64(n2) + float64(f)/(1<<fracBits)) * xoToVco
		m, g := splitPllFraction(loActual / 80.0)
		gMoG := float64(m) + float64(g)/(1<<fracBits)

		p := &table.Channels[ch]
		p.Pll1 = (n2<<fracBits | f) | 1<<31
		// Bit 28 is the dither enable; it must stay clear.
		p.Pll4 = (m<<fracBits | g) &^ (1 << 28)
		p.RxN, p.RxDec, p.RxInv = fixedRatio(1.0 / gMoG)
		p.TxN, p.TxDec, p.TxInv = fixedRatio(gMoG)
	}

	for i := 0; i < NumFreqEntries; i++ {
		freq := freqTableBase + freqTableStep*float64(i)
		if i == 1 {
			freq = freqTableOverride
		}
		n2, f := splitPllFraction(freq / xoToVco)
		table.FreqWords[i] = n2<<fracBits | f
	}

	return &table
}

// Serialize the table in on-chip layout (little endian, header then
// channel records then frequency words). Always PllTableSize bytes.
func (t *PllTable) Bytes() []byte {
	result := make([]byte, 0, PllTableSize)
	put := func(v uint32) {
		result = binary.LittleEndian.AppendUint32(result, v)
	}
	put(t.Magic)
	put(t.FreqOffset)
	for ch := range t.Channels {
		p := &t.Channels[ch]
		put(p.Pll1)
		put(p.Pll4)
		put(p.RxN)
		put(p.RxDec)
		put(p.RxInv)
		put(p.TxN)
		put(p.TxDec)
		put(p.TxInv)
	}
	for _, w := range t.FreqWords {
		put(w)
	}
	return result
}

// Shortcut for the common "just give me the bytes" case.
func BuildPllTable(freqOffset uint16) []byte {
	return NewPllTable(freqOffset).Bytes()
}

// Decode a serialized calibration table, for inspection tools. Rejects
// short data and a bad magic.
func ParsePllTable(data []byte) (*PllTable, error) {
	if len(data) < PllTableSize {
		return nil, fmt.Errorf("Not enough data for PLL table! Expected %d, got %d", PllTableSize, len(data))
	}
	var table PllTable
	pos := 0
	get := func() uint32 {
		v := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		return v
	}
	table.Magic = get()
	if table.Magic != PllMagic {
		return nil, fmt.Errorf("Bad PLL table magic: %08x (expected %08x)", table.Magic, uint32(PllMagic))
	}
	table.FreqOffset = get()
	for ch := range table.Channels {
		p := &table.Channels[ch]
		p.Pll1 = get()
		p.Pll4 = get()
		p.RxN = get()
		p.RxDec = get()
		p.RxInv = get()
		p.TxN = get()
		p.TxDec = get()
		p.TxInv = get()
	}
	for i := range table.FreqWords {
		table.FreqWords[i] = get()
	}
	return &table, nil
}
