package winc

import (
	"testing"
)

func TestParseEfuseBank_Fields(t *testing.T) {
	raw := makeEfuseRaw(0x2345, true, 3, false)
	bank, err := ParseEfuseBank(raw)
	if err != nil {
		t.Fatalf("Error parsing bank: %s", err)
	}
	if bank.FreqOffset != 0x2345 {
		t.Fatalf("Expected freq offset 0x2345, got 0x%x", bank.FreqOffset)
	}
	if !bank.FreqOffsetUsed {
		t.Fatalf("Expected freq offset used flag set")
	}
	if bank.BankIdx != 3 {
		t.Fatalf("Expected bank index 3, got %d", bank.BankIdx)
	}
	if !bank.BankUsed || bank.BankInvalid {
		t.Fatalf("Expected used+valid bank, got used=%t invalid=%t", bank.BankUsed, bank.BankInvalid)
	}
	if bank.Mac != [6]byte{0xF8, 0xF0, 0x05, 0xA1, 0xB2, 0xC3} {
		t.Fatalf("Unexpected MAC: %x", bank.Mac)
	}
}

func TestParseEfuseBank_FifteenBitOffset(t *testing.T) {
	// The used flag lives in bit 15; it must never leak into the value.
	raw := makeEfuseRaw(0x7FFF, true, 0, false)
	bank, err := ParseEfuseBank(raw)
	if err != nil {
		t.Fatalf("Error parsing bank: %s", err)
	}
	if bank.FreqOffset != 0x7FFF {
		t.Fatalf("Expected max offset 0x7FFF, got 0x%x", bank.FreqOffset)
	}
	raw = makeEfuseRaw(0x7FFF, false, 0, false)
	bank, err = ParseEfuseBank(raw)
	if err != nil {
		t.Fatalf("Error parsing bank: %s", err)
	}
	if bank.FreqOffsetUsed {
		t.Fatalf("Expected unused flag to parse as false")
	}
	if bank.FreqOffset != 0x7FFF {
		t.Fatalf("Unused flag altered the offset: 0x%x", bank.FreqOffset)
	}
}

func TestParseEfuseBank_TooShort(t *testing.T) {
	if _, err := ParseEfuseBank(make([]byte, EfuseBankSize-1)); err == nil {
		t.Fatalf("Expected error for short bank data")
	}
}

func TestReadTrimData_Validation(t *testing.T) {
	flash := newMemFlash(1)

	flash.trim = makeEfuseRaw(100, true, 1, false)
	bank, err := ReadTrimData(flash)
	if err != nil {
		t.Fatalf("Error reading good bank: %s", err)
	}
	if bank.FreqOffset != 100 {
		t.Fatalf("Expected offset 100, got %d", bank.FreqOffset)
	}

	// Blank version marker (unprogrammed chip reads all zeroes)
	flash.trim = makeEfuseRaw(100, true, 1, false)
	flash.trim[0] &^= 0x7
	if _, err := ReadTrimData(flash); err == nil {
		t.Fatalf("Expected failure for blank version marker")
	}

	// Invalid bank
	flash.trim = makeEfuseRaw(100, true, 1, true)
	if _, err := ReadTrimData(flash); err == nil {
		t.Fatalf("Expected failure for invalid bank")
	}

	// Bank index past the last real bank
	flash.trim = makeEfuseRaw(100, true, 7, false)
	if _, err := ReadTrimData(flash); err == nil {
		t.Fatalf("Expected failure for out of range bank index")
	}

	// Unused bank
	flash.trim = makeEfuseRaw(100, true, 1, false)
	flash.trim[0] &^= 1 << 6
	if _, err := ReadTrimData(flash); err == nil {
		t.Fatalf("Expected failure for unused bank")
	}

	// Transport failure
	flash.trim = makeEfuseRaw(100, true, 1, false)
	flash.failTrim = true
	_, err = ReadTrimData(flash)
	if err == nil {
		t.Fatalf("Expected failure when transport read fails")
	}
	if _, ok := err.(*TrimDataUnavailableError); !ok {
		t.Fatalf("Expected TrimDataUnavailableError, got %T", err)
	}
}

func TestReadTrimData_DoesNotCheckOffsetUsed(t *testing.T) {
	// Whether to honor an unset offset is the caller's decision.
	flash := newMemFlash(1)
	flash.trim = makeEfuseRaw(777, false, 0, false)
	bank, err := ReadTrimData(flash)
	if err != nil {
		t.Fatalf("Unset offset flag must not fail the read: %s", err)
	}
	if bank.FreqOffsetUsed {
		t.Fatalf("Expected offset-used flag false")
	}
}
