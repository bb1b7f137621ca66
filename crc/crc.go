// Package crc implements frame checksums: CRC8 (polynomial 0x07, init 0, no reflection)
// suffixed to remote frames and CRC32 (IEEE 0x04C11DB7) used for local frame tags.
package crc

import "hash/crc32"

const CRC_POLY_07 byte = 0x07

var table07 = makeTable(CRC_POLY_07)

func makeTable(poly byte) (t [256]byte) {
	for i := range t {
		t[i] = CRC8_p07_reference(0, byte(i), poly)
	}
	return
}

// Bitwise, used to build table and as test oracle.
func CRC8_p07_reference(crc, data, poly byte) byte {
	crc ^= data
	var i byte = 0
	for ; i < 8; i++ {
		if (crc & 0x80) != 0 {
			crc <<= 1
			crc ^= poly
		} else {
			crc <<= 1
		}
	}
	return crc
}

func CRC8_p07_next(crc, data byte) byte { return table07[crc^data] }

func CRC8_p07_n(crc byte, bs []byte) byte {
	for _, b := range bs {
		crc = table07[crc^b]
	}
	return crc
}

// CRC8 of whole buffer, initial value 0.
func CRC8(bs []byte) byte { return CRC8_p07_n(0, bs) }

func CRC32(bs []byte) uint32 { return crc32.ChecksumIEEE(bs) }
