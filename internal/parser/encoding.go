package parser

import "unicode/utf16"

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// detectEncoding inspects the first bytes of a stream and returns the
// encoding to decode with, plus how many leading bytes (the BOM, if any)
// should be skipped.
//
// Per DESIGN.md Open Question 1, a UTF-16BE BOM is deliberately treated as
// UTF-16LE rather than byte-swapped: the vendor exporter that produces these
// files only ever writes little-endian UTF-16, and a stray FE FF has in
// practice been a le-encoded BOM misread by other tools, not a genuine
// big-endian file.
func detectEncoding(head []byte) (Encoding, int) {
	if len(head) >= 2 {
		if head[0] == bomUTF16LE[0] && head[1] == bomUTF16LE[1] {
			return EncodingUTF16LE, 2
		}

		if head[0] == bomUTF16BE[0] && head[1] == bomUTF16BE[1] {
			return EncodingUTF16LE, 2
		}
	}

	if looksLikeUTF16(head) {
		return EncodingUTF16LE, 0
	}

	return EncodingUTF8, 0
}

// looksLikeUTF16 applies the even-length-chunk heuristic: a BOM-less buffer
// is treated as UTF-16LE when it has even length and at least half of its
// odd-indexed bytes are NUL, which is the signature of ASCII-range text
// encoded as UTF-16LE without a BOM.
func looksLikeUTF16(head []byte) bool {
	if len(head) < 4 || len(head)%2 != 0 {
		return false
	}

	sample := head
	if len(sample) > 256 {
		sample = sample[:256]
	}

	nulOdd := 0
	pairs := len(sample) / 2

	for i := 1; i < len(sample); i += 2 {
		if sample[i] == 0x00 {
			nulOdd++
		}
	}

	return pairs > 0 && nulOdd*2 >= pairs
}

// decodeUTF16LE converts raw little-endian UTF-16 bytes to a UTF-8 string.
// If the byte count is odd, the trailing byte is held back by the caller
// (it belongs to the next chunk) and must not be passed here.
func decodeUTF16LE(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}

	return string(utf16.Decode(u16))
}
