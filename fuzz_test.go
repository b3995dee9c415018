package vcdiff

import (
	"errors"
	"testing"
)

// FuzzDecodeStream feeds arbitrary bytes through the full streaming decoder
// with no source attached. It must never panic, and any error it returns
// must be one of the package's sentinel kinds.
func FuzzDecodeStream(f *testing.F) {
	f.Add(addTestDelta)
	f.Add(runTestDelta)
	f.Add(selfOverlapDelta)
	f.Add(addTestDeltaChecksummed)
	f.Add(zeroLengthWindowDelta)
	f.Add([]byte{0xff, 0xff, 0xff})
	f.Add([]byte{0xd6, 0xc3, 0xc4})
	f.Add([]byte{0xd6, 0xc3, 0xc4, 0x99})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("decoder panicked on %d bytes: %v", len(data), r)
			}
		}()

		d := NewDecoder()
		d.Feed(data)

		var total int
		for i := 0; i < 100000; i++ {
			ev, err := d.Step()
			if err != nil {
				isSentinel := false
				for _, sentinel := range []error{ErrMalformedInput, ErrUnsupported, ErrChecksumMismatch, ErrSourceTooShort, ErrInternalError} {
					if errors.Is(err, sentinel) {
						isSentinel = true
						break
					}
				}
				if !isSentinel {
					t.Errorf("decoder returned a non-sentinel error: %v", err)
				}
				return
			}
			switch ev {
			case EventNeedInput, EventNeedSource:
				return
			case EventOutput:
				total += len(d.Output())
				if total > 64<<20 {
					t.Errorf("decoder produced suspiciously large output: %d bytes", total)
					return
				}
			}
		}
	})
}

// FuzzReadVarintFrom exercises the non-resumable varint reader with
// arbitrary byte sequences.
func FuzzReadVarintFrom(f *testing.F) {
	f.Add([]byte{0x00})
	f.Add([]byte{0x7f})
	f.Add([]byte{0x81, 0x00})
	f.Add([]byte{0xff, 0x7f})
	f.Add([]byte{0x80})
	f.Add([]byte{0x80, 0x80, 0x80, 0x80, 0x80})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("readVarintFrom panicked on %v: %v", data, r)
			}
		}()

		pos := 0
		v, err := readVarintFrom(data, &pos)
		if err == nil && pos > len(data) {
			t.Errorf("readVarintFrom advanced pos past input: pos=%d len=%d value=%d", pos, len(data), v)
		}
	})
}

// FuzzAddressCache exercises address cache decoding with arbitrary address
// section bytes, positions, and modes.
func FuzzAddressCache(f *testing.F) {
	f.Add([]byte{0x00}, uint32(0), byte(0))
	f.Add([]byte{0x64}, uint32(100), byte(1))
	f.Add([]byte{0xff}, uint32(255), byte(8))
	f.Add([]byte{0x00}, uint32(0xFFFFFFFF), byte(9))

	f.Fuzz(func(t *testing.T, addressData []byte, here uint32, mode byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("addressCache panicked with addressData=%v, here=%d, mode=%d: %v", addressData, here, mode, r)
			}
		}()

		cache := newAddressCache(4, 3)
		cache.reset(addressData)

		_, err := cache.decode(here, mode)
		if mode > 8 && err == nil {
			t.Errorf("decode should reject invalid mode %d", mode)
		}
	})
}

// FuzzSectionLoad exercises the section buffering state machine across two
// arbitrarily sized Feed-like chunks.
func FuzzSectionLoad(f *testing.F) {
	f.Add(uint32(4), []byte("AB"), []byte("CDEF"))
	f.Add(uint32(0), []byte(""), []byte(""))
	f.Add(uint32(6), []byte("ABCDEF"), []byte(""))
	f.Add(uint32(100), []byte("short"), []byte("alsoshort"))

	f.Fuzz(func(t *testing.T, size uint32, chunk1, chunk2 []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("section panicked with size=%d chunk1=%v chunk2=%v: %v", size, chunk1, chunk2, r)
			}
		}()

		if size > 1<<20 {
			size = size % (1 << 20)
		}

		var s section
		s.reset(size)

		p1 := append([]byte(nil), chunk1...)
		loaded := s.load(&p1)
		if !loaded {
			p2 := append([]byte(nil), chunk2...)
			loaded = s.load(&p2)
		}
		if loaded && uint32(len(s.data)) != size {
			t.Errorf("loaded section has wrong length: got %d want %d", len(s.data), size)
		}
	})
}
