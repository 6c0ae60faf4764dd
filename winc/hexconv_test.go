package winc

import (
	"bytes"
	"testing"
)

func TestBinToHexTransparency(t *testing.T) {
	for i := 0; i < 50; i++ {
		b := make([]byte, 20+i*37)
		for j := range b {
			b[j] = byte(j * (i + 1))
		}
		var w bytes.Buffer
		err := BinToHex(b, &w)
		if err != nil {
			t.Errorf("Error converting bin to hex: %s", err)
		}
		b2, err := HexToBin(&w)
		if err != nil {
			t.Errorf("Error converting hex back to bin: %s", err)
		}
		if !bytes.Equal(b, b2) {
			t.Errorf("BinToHex/HexToBin not transparent!")
		}
	}
}

func TestHexToBin_RejectsGarbage(t *testing.T) {
	_, err := HexToBin(bytes.NewReader([]byte("this is not intel hex")))
	if err == nil {
		t.Fatalf("Expected an error for garbage input")
	}
}
