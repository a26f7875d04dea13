package chain

import "math/big"

// Minimal RLP encoding, sufficient for legacy EVM transactions. Only byte
// strings, unsigned integers and flat lists are needed.

func rlpAppendBytes(dst, b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return append(dst, b[0])
	}
	dst = rlpAppendLength(dst, len(b), 0x80)
	return append(dst, b...)
}

func rlpAppendUint64(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, 0x80)
	}
	return rlpAppendBytes(dst, minimalBytes(new(big.Int).SetUint64(v)))
}

func rlpAppendBig(dst []byte, v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return append(dst, 0x80)
	}
	return rlpAppendBytes(dst, minimalBytes(v))
}

func rlpWrapList(payload []byte) []byte {
	out := rlpAppendLength(nil, len(payload), 0xc0)
	return append(out, payload...)
}

func rlpAppendLength(dst []byte, length int, offset byte) []byte {
	if length <= 55 {
		return append(dst, offset+byte(length))
	}
	lenBytes := minimalBytes(big.NewInt(int64(length)))
	dst = append(dst, offset+55+byte(len(lenBytes)))
	return append(dst, lenBytes...)
}

// minimalBytes returns the big-endian encoding without leading zero bytes.
func minimalBytes(v *big.Int) []byte {
	if v.Sign() == 0 {
		return nil
	}
	return v.Bytes()
}
