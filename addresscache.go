package vcdiff

const (
	selfMode = 0
	hereMode = 1
)

// addressCache decodes COPY addresses per RFC 3284 Section 5.3: a "near"
// recency ring and a "same" hash-indexed array, both cleared at the start
// of each window.
type addressCache struct {
	nearSize     int
	sameSize     int
	near         []uint32
	nextNearSlot int
	same         []uint32

	buf []byte // the window's fully buffered address section
	pos int    // read cursor into buf
}

func newAddressCache(nearSize, sameSize int) *addressCache {
	return &addressCache{
		nearSize: nearSize,
		sameSize: sameSize,
		near:     make([]uint32, nearSize),
		same:     make([]uint32, sameSize*256),
	}
}

// reset clears both caches for a new window and attaches the window's
// address section bytes.
func (ac *addressCache) reset(addr []byte) {
	ac.nextNearSlot = 0
	for i := range ac.near {
		ac.near[i] = 0
	}
	for i := range ac.same {
		ac.same[i] = 0
	}
	ac.buf = addr
	ac.pos = 0
}

// decode decodes one COPY address at logical position here using the given
// address cache mode, per the table in spec.md Section 4.2.
func (ac *addressCache) decode(here uint32, mode byte) (uint32, error) {
	maxMode := 2 + ac.nearSize + ac.sameSize - 1
	if int(mode) > maxMode {
		return 0, malformed("invalid address cache mode %d: valid modes are 0-%d", mode, maxMode)
	}

	var addr uint32
	switch {
	case mode == selfMode:
		v, err := readVarintFrom(ac.buf, &ac.pos)
		if err != nil {
			return 0, err
		}
		addr = v

	case mode == hereMode:
		v, err := readVarintFrom(ac.buf, &ac.pos)
		if err != nil {
			return 0, err
		}
		if v > here {
			return 0, malformed("HERE mode offset %d exceeds current position %d", v, here)
		}
		addr = here - v

	case int(mode) < 2+ac.nearSize:
		v, err := readVarintFrom(ac.buf, &ac.pos)
		if err != nil {
			return 0, err
		}
		addr = ac.near[mode-2] + v

	default:
		if ac.pos >= len(ac.buf) {
			return 0, malformed("unexpected end of address section reading SAME cache byte")
		}
		b := ac.buf[ac.pos]
		ac.pos++
		slot := int(mode) - (2 + ac.nearSize)
		addr = ac.same[slot*256+int(b)]
	}

	ac.update(addr)
	return addr, nil
}

// update records a decoded address into both caches, per spec.md Section
// 4.2: every decoded COPY address updates the caches, regardless of mode.
func (ac *addressCache) update(address uint32) {
	if ac.nearSize > 0 {
		ac.near[ac.nextNearSlot] = address
		ac.nextNearSlot = (ac.nextNearSlot + 1) % ac.nearSize
	}
	if ac.sameSize > 0 {
		ac.same[address%(uint32(ac.sameSize)*256)] = address
	}
}
