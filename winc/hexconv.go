package winc

import (
	"io"

	"github.com/marcinbor85/gohex"
)

// Convert a raw firmware image to Intel HEX, the format most flash
// tooling trades in.
func BinToHex(data []byte, writer io.Writer) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(0, data); err != nil {
		return err
	}
	return mem.DumpIntelHex(writer, 16)
}

// Convert an Intel HEX stream back to a flat binary image. Gaps
// between segments are filled with erased-flash bytes.
func HexToBin(reader io.Reader) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(reader); err != nil {
		return nil, err
	}
	var result []byte
	for _, segment := range mem.GetDataSegments() {
		end := int(segment.Address) + len(segment.Data)
		if end > len(result) {
			result = append(result, MakePadding(end-len(result))...)
		}
		copy(result[segment.Address:], segment.Data)
	}
	return result, nil
}
