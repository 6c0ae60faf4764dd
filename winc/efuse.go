package winc

import (
	"encoding/binary"
	"fmt"
)

const (
	EfuseBankSize = 12 // one packed production bank
	NumEfuseBanks = 6
)

// Factory production data burned into one efuse bank. Only FreqOffset
// and its used flag feed the calibration rebuild; the rest is carried
// for inspection tools.
type EfuseBank struct {
	Ver            uint8
	BankIdx        uint8
	BankUsed       bool
	BankInvalid    bool
	MacUsed        bool
	PaGainCorr     uint8
	PaGainCorrUsed bool
	FreqOffset     uint16 // 15 bits
	FreqOffsetUsed bool
	Mac            [6]byte
}

// The trim data needed for a rebuild could not be produced.
type TrimDataUnavailableError struct {
	Reason string
	Err    error
}

func (e *TrimDataUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("trim data unavailable: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("trim data unavailable: %s", e.Reason)
}

func (e *TrimDataUnavailableError) Unwrap() error { return e.Err }

// Unpack a raw 12 byte efuse bank. Bit layout mirrors the chip's
// production struct: flags packed into the first three bytes, the
// 15-bit frequency offset at bytes 4-5 little endian, MAC at the tail.
func ParseEfuseBank(raw []byte) (*EfuseBank, error) {
	if len(raw) < EfuseBankSize {
		return nil, fmt.Errorf("Not enough data for efuse bank! Expected %d, got %d", EfuseBankSize, len(raw))
	}
	bank := EfuseBank{
		Ver:            raw[0] & 0x7,
		BankIdx:        (raw[0] >> 3) & 0x7,
		BankUsed:       raw[0]&(1<<6) != 0,
		BankInvalid:    raw[0]&(1<<7) != 0,
		MacUsed:        raw[1]&1 != 0,
		PaGainCorr:     raw[1] >> 1,
		PaGainCorrUsed: raw[2]&1 != 0,
	}
	fo := binary.LittleEndian.Uint16(raw[4:6])
	bank.FreqOffset = fo & 0x7FFF
	bank.FreqOffsetUsed = fo&(1<<15) != 0
	copy(bank.Mac[:], raw[6:12])
	return &bank, nil
}

// Fetch and validate the trim fuse bank through the transport. Fails
// with TrimDataUnavailableError when the bank can't be read or its
// structural markers say it holds nothing usable. Note this does NOT
// check FreqOffsetUsed: callers decide how to treat an unset offset.
func ReadTrimData(t FlashTransport) (*EfuseBank, error) {
	raw, err := t.ReadTrimBank()
	if err != nil {
		return nil, &TrimDataUnavailableError{Reason: "could not read efuse bank", Err: err}
	}
	bank, err := ParseEfuseBank(raw)
	if err != nil {
		return nil, &TrimDataUnavailableError{Reason: "malformed efuse bank", Err: err}
	}
	if bank.Ver == 0 {
		return nil, &TrimDataUnavailableError{Reason: "version marker unset (blank bank)"}
	}
	if bank.BankIdx >= NumEfuseBanks {
		return nil, &TrimDataUnavailableError{Reason: fmt.Sprintf("bank index %d out of range", bank.BankIdx)}
	}
	if bank.BankInvalid {
		return nil, &TrimDataUnavailableError{Reason: "bank flagged invalid"}
	}
	if !bank.BankUsed {
		return nil, &TrimDataUnavailableError{Reason: "bank unused"}
	}
	return bank, nil
}
