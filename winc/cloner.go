package winc

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
)

// What happened to one sector during an operation.
type SectorOutcome int

const (
	SectorCopied SectorOutcome = iota
	SectorEqual
	SectorWritten
	SectorSkipped
	SectorDiffer
)

var sectorOutcomeNames = []string{"copied", "equal", "written", "skipped", "differ"}
var sectorOutcomeMarks = []byte{'.', '=', '!', 'x', '?'}

func (o SectorOutcome) String() string {
	if int(o) < len(sectorOutcomeNames) {
		return sectorOutcomeNames[o]
	}
	return fmt.Sprintf("SectorOutcome(%d)", int(o))
}

// The single-character progress mark printed for this outcome.
func (o SectorOutcome) Mark() byte {
	if int(o) < len(sectorOutcomeMarks) {
		return sectorOutcomeMarks[o]
	}
	return '?'
}

// Receives one notification per sector as an operation advances. Any
// observer works here: console, log collector, test harness.
type ProgressSink interface {
	Sector(addr uint32, outcome SectorOutcome)
}

// ProgressSink that streams the classic one-character-per-sector marks.
type MarkProgress struct {
	Writer io.Writer
}

func (m *MarkProgress) Sector(addr uint32, outcome SectorOutcome) {
	if outcome == SectorDiffer {
		fmt.Fprintf(m.Writer, "\ndiffer at sector 0x%x\n", addr)
		return
	}
	m.Writer.Write([]byte{outcome.Mark()})
}

// Programming mode entry tracking. The entry is attempted exactly once
// per Cloner; a failed attempt sticks and every later operation fails
// fast with the recorded error.
type progState int

const (
	progUnopened progState = iota
	progOpenOk
	progOpenFailed
)

// Drives the sector-by-sector transfer between an image file and the
// chip's internal flash, and owns the calibration rebuild. One
// operation runs at a time; each runs to completion before the next may
// start, and the transfer buffers belong to the running operation only.
type Cloner struct {
	transport FlashTransport
	progress  ProgressSink
	prog      progState
	progErr   error
	flashSize uint32
}

func NewCloner(t FlashTransport, sink ProgressSink) *Cloner {
	return &Cloner{transport: t, progress: sink}
}

// Total flash size in bytes. Zero until the first operation has entered
// programming mode.
func (c *Cloner) FlashSize() uint32 { return c.flashSize }

func (c *Cloner) report(addr uint32, outcome SectorOutcome) {
	if c.progress != nil {
		c.progress.Sector(addr, outcome)
	}
}

// Put the chip in programming mode and learn its flash size. Called at
// the top of every operation but only ever does work once.
func (c *Cloner) ensureProgrammingMode() error {
	switch c.prog {
	case progOpenOk:
		return nil
	case progOpenFailed:
		return c.progErr
	}
	err := c.transport.EnterProgrammingMode()
	if err != nil {
		c.prog = progOpenFailed
		c.progErr = fmt.Errorf("could not enter programming mode: %w", err)
		return c.progErr
	}
	mb, err := c.transport.FlashSizeMb()
	if err != nil {
		c.prog = progOpenFailed
		c.progErr = fmt.Errorf("could not query flash size: %w", err)
		return c.progErr
	}
	c.flashSize = mb << 17 // megabits to bytes
	c.prog = progOpenOk
	return nil
}

func sectorAligned(addr uint32) error {
	if addr%SectorSize != 0 {
		return &AlignmentError{Addr: addr}
	}
	return nil
}

// True when the sector at addr falls entirely inside the protected
// calibration region.
func inCalRegion(addr uint32, length uint32) bool {
	return addr >= CalRegionOffset && addr+length <= CalRegionOffset+CalRegionSize
}

// Copy the chip's entire flash into the named file. One '.' per sector;
// any failure aborts the whole operation (whatever was already flushed
// to disk stays).
func (c *Cloner) Extract(filename string) error {
	if err := c.ensureProgrammingMode(); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not open %s for writing: %w", filename, err)
	}
	defer file.Close()

	var buf [SectorSize]byte
	addr := uint32(0)
	remaining := c.flashSize
	for remaining > 0 {
		chunk := remaining
		if chunk > SectorSize {
			chunk = SectorSize
		}
		if err := sectorAligned(addr); err != nil {
			return err
		}
		if err := c.transport.ReadFlash(addr, buf[:chunk]); err != nil {
			return fmt.Errorf("failed to read %d flash bytes at 0x%x: %w", chunk, addr, err)
		}
		if _, err := file.Write(buf[:chunk]); err != nil {
			return fmt.Errorf("failed to write %d bytes to %s: %w", chunk, filename, err)
		}
		c.report(addr, SectorCopied)
		remaining -= chunk
		addr += chunk
	}
	return nil
}

// Read the next chunk of the image file, up to max bytes. A zero return
// with no error means the file ran out (stop-at-shorter behavior).
func readFileChunk(file io.Reader, buf []byte) (uint32, error) {
	n, err := io.ReadFull(file, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return uint32(n), nil
	}
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// Program the chip's flash from the named image file. Sectors inside
// the calibration region are skipped untouched; everywhere else a
// sector is erased and rewritten only when the file and flash content
// actually differ (flash endurance is finite). Stops at whichever of
// file and flash runs out first.
func (c *Cloner) Update(filename string) error {
	if err := c.ensureProgrammingMode(); err != nil {
		return err
	}
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("could not open %s for reading: %w", filename, err)
	}
	defer file.Close()

	var fileBuf, flashBuf [SectorSize]byte
	addr := uint32(0)
	remaining := c.flashSize
	for remaining > 0 {
		chunk := remaining
		if chunk > SectorSize {
			chunk = SectorSize
		}
		got, err := readFileChunk(file, fileBuf[:chunk])
		if err != nil {
			return fmt.Errorf("failed to read %d bytes from %s: %w", chunk, filename, err)
		}
		if got == 0 {
			break // file shorter than flash
		}
		chunk = got
		if err := sectorAligned(addr); err != nil {
			return err
		}
		if inCalRegion(addr, chunk) {
			// Never overwrite the calibration tables from a file.
			c.report(addr, SectorSkipped)
			remaining -= chunk
			addr += chunk
			continue
		}
		if err := c.transport.ReadFlash(addr, flashBuf[:chunk]); err != nil {
			return fmt.Errorf("failed to read %d flash bytes at 0x%x: %w", chunk, addr, err)
		}
		if bytes.Equal(fileBuf[:chunk], flashBuf[:chunk]) {
			c.report(addr, SectorEqual)
		} else {
			if err := c.transport.EraseFlash(addr, chunk); err != nil {
				return fmt.Errorf("failed to erase %d flash bytes at 0x%x: %w", chunk, addr, err)
			}
			if err := c.transport.WriteFlash(addr, fileBuf[:chunk]); err != nil {
				return fmt.Errorf("failed to write %d flash bytes at 0x%x: %w", chunk, addr, err)
			}
			c.report(addr, SectorWritten)
		}
		remaining -= chunk
		addr += chunk
	}
	return nil
}

// Compare the chip's flash against the named image file sector by
// sector. Never writes anything. Returns true only if every compared
// sector matched.
func (c *Cloner) Compare(filename string) (bool, error) {
	if err := c.ensureProgrammingMode(); err != nil {
		return false, err
	}
	file, err := os.Open(filename)
	if err != nil {
		return false, fmt.Errorf("could not open %s for reading: %w", filename, err)
	}
	defer file.Close()

	var fileBuf, flashBuf [SectorSize]byte
	identical := true
	addr := uint32(0)
	remaining := c.flashSize
	for remaining > 0 {
		chunk := remaining
		if chunk > SectorSize {
			chunk = SectorSize
		}
		got, err := readFileChunk(file, fileBuf[:chunk])
		if err != nil {
			return false, fmt.Errorf("failed to read %d bytes from %s: %w", chunk, filename, err)
		}
		if got == 0 {
			break
		}
		chunk = got
		if err := sectorAligned(addr); err != nil {
			return false, err
		}
		if err := c.transport.ReadFlash(addr, flashBuf[:chunk]); err != nil {
			return false, fmt.Errorf("failed to read %d flash bytes at 0x%x: %w", chunk, addr, err)
		}
		if bytes.Equal(fileBuf[:chunk], flashBuf[:chunk]) {
			c.report(addr, SectorEqual)
		} else {
			identical = false
			c.report(addr, SectorDiffer)
		}
		remaining -= chunk
		addr += chunk
	}
	return identical, nil
}

// Recompute the PLL tables from the chip's trim fuse data and splice
// them back into the calibration sector, writing only if the result
// differs from what's already there. Returns whether the sector
// changed.
func (c *Cloner) RebuildCalibration() (bool, error) {
	if err := c.ensureProgrammingMode(); err != nil {
		return false, err
	}
	if err := sectorAligned(CalRegionOffset); err != nil {
		return false, err
	}
	var sector, updated [SectorSize]byte
	if err := c.transport.ReadFlash(CalRegionOffset, sector[:]); err != nil {
		return false, fmt.Errorf("failed to read calibration sector at 0x%x: %w", uint32(CalRegionOffset), err)
	}
	bank, err := ReadTrimData(c.transport)
	if err != nil {
		return false, err
	}
	if !bank.FreqOffsetUsed {
		// Observed chips sometimes leave the flag unset; proceed with
		// the raw value just like the factory tooling does.
		log.Printf("Trim frequency offset flagged unused, rebuilding with raw value %d anyway\n", bank.FreqOffset)
	}
	table := BuildPllTable(bank.FreqOffset)
	copy(updated[:], sector[:])
	copy(updated[CalTableOffset:], table)
	if bytes.Equal(sector[:], updated[:]) {
		c.report(CalRegionOffset, SectorEqual)
		return false, nil
	}
	if err := c.transport.EraseFlash(CalRegionOffset, SectorSize); err != nil {
		return false, fmt.Errorf("failed to erase calibration sector at 0x%x: %w", uint32(CalRegionOffset), err)
	}
	if err := c.transport.WriteFlash(CalRegionOffset, updated[:]); err != nil {
		return false, fmt.Errorf("failed to write calibration sector at 0x%x: %w", uint32(CalRegionOffset), err)
	}
	c.report(CalRegionOffset, SectorWritten)
	return true, nil
}
