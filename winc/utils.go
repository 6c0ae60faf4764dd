package winc

import (
	"crypto/md5"
	"encoding/hex"
)

// Round width up to the next multiple of align.
func AlignWidth(width uint, align uint) uint {
	excess := width % align
	if excess > 0 {
		return width + align - excess
	}
	return width
}

// Erased-flash filler bytes (0xFF), used to pad images out to sector
// boundaries.
func MakePadding(length int) []byte {
	result := make([]byte, length)
	for i := range result {
		result[i] = 0xFF
	}
	return result
}

// Produce an md5 string from given data (a simple shortcut)
func Md5String(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

// Number of sector transfers needed to move size bytes.
func SectorCount(size uint32) uint32 {
	return uint32(AlignWidth(uint(size), SectorSize)) / SectorSize
}
