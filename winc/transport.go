package winc

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Erase/write granularity of the chip's serial flash. Every address
	// handed to the transport must be a multiple of this.
	SectorSize = 4096

	// The sector holding the PLL and gain tables. Ordinary updates must
	// never touch it; only an explicit calibration rebuild writes here.
	CalRegionOffset = 0x1000
	CalRegionSize   = 0x1000

	// Where the PLL table sits inside the calibration region. The gain
	// tables occupy the rest of the region.
	CalTableOffset = 0

	AckByte = 0x06
	NakByte = 0x15
)

// Raw access to the chip's internal flash while it sits in programming
// mode. Read/erase/write take byte addresses; erase and write addresses
// must be sector aligned. FlashSizeMb reports capacity in megabits
// (bytes = mb << 17). ReadTrimBank returns the raw production efuse
// bank. All calls are synchronous; they either succeed or fail, nothing
// here retries.
type FlashTransport interface {
	EnterProgrammingMode() error
	FlashSizeMb() (uint32, error)
	ReadFlash(addr uint32, buf []byte) error
	EraseFlash(addr uint32, length uint32) error
	WriteFlash(addr uint32, buf []byte) error
	ReadTrimBank() ([]byte, error)
}

// An address broke the sector alignment contract. This is a caller bug,
// not a device condition.
type AlignmentError struct {
	Addr uint32
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("address 0x%x not aligned to %d byte sectors", e.Addr, SectorSize)
}

// The programmer answered a command with NAK.
type NakError struct {
	Cmd byte
}

func (e *NakError) Error() string {
	return fmt.Sprintf("programmer rejected command '%c'", e.Cmd)
}

// Produce the framed form of a flash command: opcode, then address and
// length as little-endian words.
func FlashCommandRaw(mode byte, addr uint32, length uint32) []byte {
	cmd := make([]byte, 0, 9)
	cmd = append(cmd, mode)
	cmd = binary.LittleEndian.AppendUint32(cmd, addr)
	cmd = binary.LittleEndian.AppendUint32(cmd, length)
	return cmd
}

func EnterProgrammingCommand() []byte { return []byte{'P'} }
func FlashSizeCommand() []byte        { return []byte{'S'} }
func ReadTrimCommand() []byte         { return []byte{'T'} }

func ReadFlashCommand(addr uint32, length uint32) []byte {
	return FlashCommandRaw('R', addr, length)
}

func EraseFlashCommand(addr uint32, length uint32) []byte {
	return FlashCommandRaw('E', addr, length)
}

func WriteFlashCommand(addr uint32, length uint32) []byte {
	return FlashCommandRaw('W', addr, length)
}

// FlashTransport over a serial connection to the programmer stub.
// Every exchange is command out, payload in/out, single status byte
// back (except plain reads, where the data itself is the answer).
type SerialProgrammer struct {
	Conn io.ReadWriter
}

func NewSerialProgrammer(conn io.ReadWriter) *SerialProgrammer {
	return &SerialProgrammer{Conn: conn}
}

// Run one exchange and check the trailing status byte.
func (p *SerialProgrammer) command(cmd []byte, payload []byte, response []byte) error {
	rwep := ReadWriteErrorPass{rw: p.Conn}
	rwep.WritePass(cmd)
	if len(payload) > 0 {
		rwep.WritePass(payload)
	}
	if len(response) > 0 {
		rwep.ReadPass(response)
	}
	var status [1]byte
	rwep.ReadPass(status[:])
	if err := rwep.IsPass(); err != nil {
		return err
	}
	if status[0] != AckByte {
		return &NakError{Cmd: cmd[0]}
	}
	return nil
}

func (p *SerialProgrammer) EnterProgrammingMode() error {
	return p.command(EnterProgrammingCommand(), nil, nil)
}

func (p *SerialProgrammer) FlashSizeMb() (uint32, error) {
	var raw [4]byte
	if err := p.command(FlashSizeCommand(), nil, raw[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw[:]), nil
}

func (p *SerialProgrammer) ReadFlash(addr uint32, buf []byte) error {
	if addr%SectorSize != 0 {
		return &AlignmentError{Addr: addr}
	}
	return p.command(ReadFlashCommand(addr, uint32(len(buf))), nil, buf)
}

func (p *SerialProgrammer) EraseFlash(addr uint32, length uint32) error {
	if addr%SectorSize != 0 {
		return &AlignmentError{Addr: addr}
	}
	return p.command(EraseFlashCommand(addr, length), nil, nil)
}

func (p *SerialProgrammer) WriteFlash(addr uint32, buf []byte) error {
	if addr%SectorSize != 0 {
		return &AlignmentError{Addr: addr}
	}
	return p.command(WriteFlashCommand(addr, uint32(len(buf))), buf, nil)
}

func (p *SerialProgrammer) ReadTrimBank() ([]byte, error) {
	raw := make([]byte, EfuseBankSize)
	if err := p.command(ReadTrimCommand(), nil, raw); err != nil {
		return nil, err
	}
	return raw, nil
}
