package imgcodec

// PNG CRC-32 polynomial (reflected), per the PNG specification.
const crcPolynomial = 0xEDB88320

// crcTable is the table-driven CRC-32 lookup table. It is constructed once
// at package initialization and never mutated afterwards.
var crcTable = makeCRCTable()

func makeCRCTable() [256]uint32 {
	var table [256]uint32
	for n := range table {
		c := uint32(n)
		for k := 0; k < 8; k++ {
			if c&1 != 0 {
				c = crcPolynomial ^ (c >> 1)
			} else {
				c >>= 1
			}
		}
		table[n] = c
	}
	return table
}

// crcUpdate folds data into a running CRC value. The caller is responsible
// for the initial and final XOR with 0xFFFFFFFF.
func crcUpdate(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = crcTable[(crc^uint32(b))&0xFF] ^ (crc >> 8)
	}
	return crc
}

// CRC32 computes the standard PNG CRC-32 of data: polynomial 0xEDB88320,
// initial and final XOR 0xFFFFFFFF, table driven.
func CRC32(data []byte) uint32 {
	return crcUpdate(0xFFFFFFFF, data) ^ 0xFFFFFFFF
}
