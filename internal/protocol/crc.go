package protocol

// crc16 computes CRC-16/XMODEM: polynomial 0x1021, initial register 0x0000,
// no input/output reflection, no final XOR, MSB-first.
//
// The lights append this checksum low byte first, which is the opposite of
// the usual XMODEM byte order. Encode preserves that ordering.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
