package winc

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// In-memory FlashTransport for engine tests. Records every erase and
// write so tests can count endurance-relevant operations, and can be
// told to fail any call class.
type memFlash struct {
	data        []byte
	trim        []byte
	modeEntries int
	failMode    bool
	failRead    bool
	failErase   bool
	failWrite   bool
	failTrim    bool
	erases      []uint32
	writes      []uint32
}

// A patterned flash of the given megabit capacity (1 megabit = 32
// sectors). Deterministic content so tests can reason about diffs.
func newMemFlash(megabits uint32) *memFlash {
	data := make([]byte, megabits<<17)
	r := rand.New(rand.NewSource(int64(megabits)))
	r.Read(data)
	return &memFlash{data: data}
}

func (m *memFlash) EnterProgrammingMode() error {
	m.modeEntries++
	if m.failMode {
		return fmt.Errorf("simulated mode failure")
	}
	return nil
}

func (m *memFlash) FlashSizeMb() (uint32, error) {
	return uint32(len(m.data) >> 17), nil
}

func (m *memFlash) ReadFlash(addr uint32, buf []byte) error {
	if m.failRead {
		return fmt.Errorf("simulated read failure")
	}
	if int(addr)+len(buf) > len(m.data) {
		return fmt.Errorf("read past end of flash: 0x%x+%d", addr, len(buf))
	}
	copy(buf, m.data[addr:])
	return nil
}

func (m *memFlash) EraseFlash(addr uint32, length uint32) error {
	if m.failErase {
		return fmt.Errorf("simulated erase failure")
	}
	m.erases = append(m.erases, addr)
	for i := addr; i < addr+length && int(i) < len(m.data); i++ {
		m.data[i] = 0xFF
	}
	return nil
}

func (m *memFlash) WriteFlash(addr uint32, buf []byte) error {
	if m.failWrite {
		return fmt.Errorf("simulated write failure")
	}
	m.writes = append(m.writes, addr)
	copy(m.data[addr:], buf)
	return nil
}

func (m *memFlash) ReadTrimBank() ([]byte, error) {
	if m.failTrim {
		return nil, fmt.Errorf("simulated trim failure")
	}
	return m.trim, nil
}

// ProgressSink that just remembers everything it was told.
type recordProgress struct {
	addrs    []uint32
	outcomes []SectorOutcome
}

func (r *recordProgress) Sector(addr uint32, outcome SectorOutcome) {
	r.addrs = append(r.addrs, addr)
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordProgress) count(outcome SectorOutcome) int {
	total := 0
	for _, o := range r.outcomes {
		if o == outcome {
			total++
		}
	}
	return total
}

// Build a raw efuse bank with the given trim values and sane metadata.
func makeEfuseRaw(freqOffset uint16, used bool, bankIdx uint8, invalid bool) []byte {
	raw := make([]byte, EfuseBankSize)
	raw[0] = 1 | (bankIdx&0x7)<<3 | 1<<6
	if invalid {
		raw[0] |= 1 << 7
	}
	fo := freqOffset & 0x7FFF
	if used {
		fo |= 1 << 15
	}
	binary.LittleEndian.PutUint16(raw[4:6], fo)
	copy(raw[6:12], []byte{0xF8, 0xF0, 0x05, 0xA1, 0xB2, 0xC3})
	return raw
}

func tempImagePath(t *testing.T, filename string) string {
	return filepath.Join(t.TempDir(), filename)
}

func writeTempImage(t *testing.T, filename string, data []byte) string {
	path := tempImagePath(t, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Couldn't write temp image: %s", err)
	}
	return path
}
