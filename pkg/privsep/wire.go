package privsep

import "github.com/privsep/keyd/internal/wireabi"

// numberSize, putNumber and number give buffer.go a local name for the
// wireabi encoding without exposing the ABI choice past this package's
// boundary; callers only ever see PushNumber/ShiftNumber.
const numberSize = wireabi.NumberSize

func putNumber(dst []byte, v uint64) { wireabi.PutNumber(dst, v) }

func number(src []byte) uint64 { return wireabi.Number(src) }
