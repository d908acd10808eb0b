package wire

import "hash/crc32"

// crcTable is the ISO-3309/V.42 ("zlib") CRC32 variant: reflected, polynomial
// 0xEDB88320, initial value 0xFFFFFFFF, output XORed with 0xFFFFFFFF. This is
// exactly crc32.IEEE, so there is no hand-rolled polynomial table here.
var crcTable = crc32.MakeTable(crc32.IEEE)

// checksum computes the wire CRC32 over b.
func checksum(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}
