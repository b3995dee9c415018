package vcdiff

// dstate is the decoder's cooperative state machine position, following
// spec.md Section 4.7: VCHEAD -> HDRIND -> ... -> CKSUM -> DATA -> INST ->
// ADDR -> EMIT -> FINISH -> WININD (loop).
type dstate int

const (
	stMagic dstate = iota
	stHdrInd
	stSecondID
	stTableLen
	stNear
	stSame
	stTabDat
	stAppLen
	stAppDat
	stWinInd
	stCpyLen
	stCpyOff
	stEncLen
	stTgtLen
	stDelInd
	stDataLen
	stInstLen
	stAddrLen
	stCksum
	stData
	stInst
	stAddr
	stEmit
	stFinish
)

// Decoder is a single-owner, single-threaded VCDIFF stream decoder. The
// zero value is not usable; construct one with NewDecoder.
type Decoder struct {
	state dstate
	flags Flags

	pending []byte

	// header, parsed once
	hdrInd        byte
	secondID      byte
	hasSecondID   bool
	codeTableSize uint32
	customNear    byte
	customSame    byte
	appHeaderSize uint32
	appHeaderPos  uint32
	appHeader     []byte

	// magic-byte parse progress
	magicPos int

	// resumable varint accumulators, shared across whichever header-level
	// field is currently being decoded (fields are read strictly one at a
	// time, never interleaved)
	vsize      varintAccum
	voff       varintAccum
	sizeActive bool
	offActive  bool

	// per-window header fields
	winInd      byte
	cpylen      uint32
	cpyoff      uint64
	enclen      uint32
	tgtlen      uint32
	delInd      byte
	cksum       uint32
	cksumBytes  int
	hasChecksum bool

	dataSect section
	instSect section
	addrSect section
	acache   *addressCache
	table    *codeTable

	skipCount uint32 // bytes skipped so far under FlagSkipWindow

	// emission state
	position uint32
	maxPos   uint32
	cur1     halfInst
	cur2     halfInst

	outBuf       []byte
	out          []byte
	avail        uint32
	space        uint32
	outAllocated bool

	windowCount  int
	winStart     uint64
	lastWinStart uint64

	src          *Source
	pendingBlock uint64
}

// NewDecoder constructs a decoder ready to Step through a VCDIFF stream
// encoded with the RFC 3284 default code table (the only table this
// decoder supports).
func NewDecoder() *Decoder {
	return &Decoder{
		acache: newAddressCache(defaultNearCacheSize, defaultSameCacheSize),
		table:  defaultCodeTable,
	}
}

// AttachSource supplies the random-accessible source document that
// VCD_SOURCE windows copy from. It may be called at any time before the
// first EventNeedSource is observed (and again, to swap sources, any time
// the decoder is between windows).
func (d *Decoder) AttachSource(src *Source) { d.src = src }

// SetFlags installs the caller-controlled behavior flags described in
// spec.md Section 6.
func (d *Decoder) SetFlags(f Flags) { d.flags = f }

// Feed appends more input bytes. The decoder may alias p directly (for the
// zero-copy section path); callers must not mutate or reuse p after
// calling Feed.
func (d *Decoder) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	if len(d.pending) == 0 {
		d.pending = p
		return
	}
	d.pending = append(d.pending, p...)
}

// Header returns the stream header fields, valid from EventGotHeader
// onward.
func (d *Decoder) Header() Header {
	return Header{
		Indicator:   d.hdrInd,
		SecondaryID: d.secondID,
		HasSecondID: d.hasSecondID,
		AppHeader:   d.appHeader,
	}
}

// WindowInfo describes the window currently in progress, valid from
// EventWinStart/EventGotHeader through EventWinFinish.
func (d *Decoder) WindowInfo() WindowInfo {
	return WindowInfo{
		Index:              d.windowCount,
		Indicator:          d.winInd,
		SourceSegmentSize:  d.cpylen,
		SourceSegmentPos:   d.cpyoff,
		TargetWindowLength: d.tgtlen,
		DeltaIndicator:     d.delInd,
		HasChecksum:        d.hasChecksum,
		Checksum:           d.cksum,
	}
}

// Output returns the current window's decoded target bytes, valid after
// EventOutput until the next Step call.
func (d *Decoder) Output() []byte { return d.out[:d.avail] }

// PendingBlock returns the source block index the decoder is waiting on
// after EventNeedSourceBlock.
func (d *Decoder) PendingBlock() uint64 { return d.pendingBlock }

// Finish tells the decoder no further input will arrive. It returns nil if
// the stream ended cleanly on a window boundary, or a MalformedInput error
// describing a truncated stream otherwise.
func (d *Decoder) Finish() error {
	if d.state == stWinInd && len(d.pending) == 0 {
		return nil
	}
	return malformed("truncated VCDIFF stream")
}

func (d *Decoder) readByte() (byte, bool) {
	if len(d.pending) == 0 {
		return 0, false
	}
	b := d.pending[0]
	d.pending = d.pending[1:]
	return b, true
}

func (d *Decoder) readSizeVarint() (uint32, bool, error) {
	if !d.sizeActive {
		d.vsize.initSize()
		d.sizeActive = true
	}
	for {
		b, ok := d.readByte()
		if !ok {
			return 0, false, nil
		}
		v, done, err := d.vsize.step(b)
		if err != nil {
			d.sizeActive = false
			return 0, false, err
		}
		if done {
			d.sizeActive = false
			return uint32(v), true, nil
		}
	}
}

func (d *Decoder) readOffsetVarint() (uint64, bool, error) {
	if !d.offActive {
		d.voff.initOffset()
		d.offActive = true
	}
	for {
		b, ok := d.readByte()
		if !ok {
			return 0, false, nil
		}
		v, done, err := d.voff.step(b)
		if err != nil {
			d.offActive = false
			return 0, false, err
		}
		if done {
			d.offActive = false
			return v, true, nil
		}
	}
}

func addUint32Checked(a, b uint32) (uint32, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

func addUint64Checked(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Step advances the decoder as far as it can with the input fed so far,
// returning an Event describing what happened and what the caller must do
// before calling Step again.
func (d *Decoder) Step() (Event, error) {
	for {
		switch d.state {

		case stMagic:
			for d.magicPos < 4 {
				b, ok := d.readByte()
				if !ok {
					return EventNeedInput, nil
				}
				switch d.magicPos {
				case 0:
					if b != magicByte0 {
						return 0, malformed("not a VCDIFF input")
					}
				case 1:
					if b != magicByte1 {
						return 0, malformed("not a VCDIFF input")
					}
				case 2:
					if b != magicByte2 {
						return 0, malformed("not a VCDIFF input")
					}
				case 3:
					if b != vcdiffVersion {
						return 0, unsupported("VCDIFF input version %d is not supported", b)
					}
				}
				d.magicPos++
			}
			d.state = stHdrInd

		case stHdrInd:
			b, ok := d.readByte()
			if !ok {
				return EventNeedInput, nil
			}
			if b&vcdInvHdr != 0 {
				return 0, malformed("unrecognized header indicator bits set: 0x%02x", b)
			}
			d.hdrInd = b
			d.state = stSecondID

		case stSecondID:
			if d.hdrInd&vcdDecompress != 0 {
				b, ok := d.readByte()
				if !ok {
					return EventNeedInput, nil
				}
				d.secondID = b
				d.hasSecondID = true
				return 0, unsupported("secondary compressor id %d is not supported", b)
			}
			d.state = stTableLen

		case stTableLen:
			if d.hdrInd&vcdCodetable != 0 {
				v, done, err := d.readSizeVarint()
				if err != nil {
					return 0, err
				}
				if !done {
					return EventNeedInput, nil
				}
				if v <= 2 {
					return 0, malformed("invalid code table size %d", v)
				}
				d.codeTableSize = v - 2
			}
			d.state = stNear

		case stNear:
			if d.hdrInd&vcdCodetable != 0 {
				b, ok := d.readByte()
				if !ok {
					return EventNeedInput, nil
				}
				d.customNear = b
			}
			d.state = stSame

		case stSame:
			if d.hdrInd&vcdCodetable != 0 {
				b, ok := d.readByte()
				if !ok {
					return EventNeedInput, nil
				}
				d.customSame = b
			}
			d.state = stTabDat

		case stTabDat:
			if d.hdrInd&vcdCodetable != 0 {
				return 0, unsupported("custom code tables are not supported")
			}
			d.state = stAppLen

		case stAppLen:
			if d.hdrInd&vcdAppHeader != 0 {
				v, done, err := d.readSizeVarint()
				if err != nil {
					return 0, err
				}
				if !done {
					return EventNeedInput, nil
				}
				d.appHeaderSize = v
				d.appHeader = make([]byte, v)
				d.appHeaderPos = 0
			}
			d.state = stAppDat

		case stAppDat:
			if d.hdrInd&vcdAppHeader != 0 {
				for d.appHeaderPos < d.appHeaderSize {
					b, ok := d.readByte()
					if !ok {
						return EventNeedInput, nil
					}
					d.appHeader[d.appHeaderPos] = b
					d.appHeaderPos++
				}
			}
			d.state = stWinInd

		case stWinInd:
			b, ok := d.readByte()
			if !ok {
				return EventNeedInput, nil
			}
			newStart, ok := addUint64Checked(d.winStart, uint64(d.tgtlen))
			if !ok {
				return 0, malformed("decoder file offset overflow")
			}
			d.winStart = newStart
			if b&vcdInvWin != 0 {
				return 0, malformed("unrecognized window indicator bits set: 0x%02x", b)
			}
			if b&vcdSource != 0 && b&vcdTarget != 0 {
				return 0, malformed("window indicator sets both VCD_SOURCE and VCD_TARGET")
			}
			d.winInd = b
			d.cpylen, d.cpyoff = 0, 0
			d.hasChecksum = false
			d.cksum = 0
			d.outAllocated = false
			d.state = stCpyLen

		case stCpyLen:
			if d.winInd&(vcdSource|vcdTarget) != 0 {
				v, done, err := d.readSizeVarint()
				if err != nil {
					return 0, err
				}
				if !done {
					return EventNeedInput, nil
				}
				d.cpylen = v
			}
			d.position = d.cpylen
			d.state = stCpyOff

		case stCpyOff:
			if d.winInd&(vcdSource|vcdTarget) != 0 {
				v, done, err := d.readOffsetVarint()
				if err != nil {
					return 0, err
				}
				if !done {
					return EventNeedInput, nil
				}
				d.cpyoff = v
				sum, ok := addUint64Checked(d.cpyoff, uint64(d.cpylen))
				if !ok {
					return 0, malformed("decoder copy window overflows a file offset")
				}
				if d.winInd&vcdTarget != 0 && sum > d.winStart {
					return 0, malformed("VCD_TARGET window out of bounds")
				}
			}
			d.state = stEncLen

		case stEncLen:
			v, done, err := d.readSizeVarint()
			if err != nil {
				return 0, err
			}
			if !done {
				return EventNeedInput, nil
			}
			d.enclen = v
			d.state = stTgtLen

		case stTgtLen:
			v, done, err := d.readSizeVarint()
			if err != nil {
				return 0, err
			}
			if !done {
				return EventNeedInput, nil
			}
			d.tgtlen = v
			sum, ok := addUint32Checked(d.cpylen, d.tgtlen)
			if !ok {
				return 0, malformed("decoder target window overflows a 32-bit size")
			}
			d.maxPos = sum
			d.state = stDelInd

		case stDelInd:
			b, ok := d.readByte()
			if !ok {
				return EventNeedInput, nil
			}
			if b&vcdInvDel != 0 {
				return 0, malformed("unrecognized delta indicator bits set: 0x%02x", b)
			}
			if b != 0 {
				return 0, malformed("secondary compression requested but not configured")
			}
			d.delInd = b
			d.state = stDataLen

		case stDataLen:
			v, done, err := d.readSizeVarint()
			if err != nil {
				return 0, err
			}
			if !done {
				return EventNeedInput, nil
			}
			d.dataSect.reset(v)
			d.state = stInstLen

		case stInstLen:
			v, done, err := d.readSizeVarint()
			if err != nil {
				return 0, err
			}
			if !done {
				return EventNeedInput, nil
			}
			d.instSect.reset(v)
			d.state = stAddrLen

		case stAddrLen:
			v, done, err := d.readSizeVarint()
			if err != nil {
				return 0, err
			}
			if !done {
				return EventNeedInput, nil
			}
			d.addrSect.reset(v)
			d.state = stCksum

		case stCksum:
			if d.winInd&vcdAdler32 != 0 {
				for d.cksumBytes < 4 {
					b, ok := d.readByte()
					if !ok {
						return EventNeedInput, nil
					}
					d.cksum = (d.cksum << 8) | uint32(b)
					d.cksumBytes++
				}
				d.hasChecksum = true
			}
			d.cksumBytes = 0

			expect := uint32(1) + uint32(varintLen(d.tgtlen)) +
				uint32(varintLen(d.dataSect.size)) + uint32(varintLen(d.instSect.size)) + uint32(varintLen(d.addrSect.size)) +
				d.dataSect.size + d.instSect.size + d.addrSect.size
			if d.winInd&vcdAdler32 != 0 {
				expect += 4
			}
			if d.enclen != expect {
				return 0, malformed("incorrect encoding length: window declares %d, computed %d", d.enclen, expect)
			}

			d.state = stData
			if d.windowCount == 0 {
				return EventGotHeader, nil
			}
			return EventWinStart, nil

		case stData:
			if d.flags.has(FlagJustHeader) {
				return d.finishBypass()
			}
			if d.flags.has(FlagSkipWindow) {
				return d.doSkipWindow()
			}
			if !d.dataSect.load(&d.pending) {
				return EventNeedInput, nil
			}
			d.state = stInst

		case stInst:
			if d.flags.has(FlagJustHeader) {
				return d.finishBypass()
			}
			if d.flags.has(FlagSkipWindow) {
				return d.doSkipWindow()
			}
			if !d.instSect.load(&d.pending) {
				return EventNeedInput, nil
			}
			d.state = stAddr

		case stAddr:
			if d.flags.has(FlagJustHeader) {
				return d.finishBypass()
			}
			if d.flags.has(FlagSkipWindow) {
				return d.doSkipWindow()
			}
			if !d.addrSect.load(&d.pending) {
				return EventNeedInput, nil
			}
			d.acache.reset(d.addrSect.data)
			d.cur1, d.cur2 = halfInst{}, halfInst{}
			d.state = stEmit

		case stEmit:
			if d.flags.has(FlagSkipEmit) {
				return d.finishBypass()
			}
			if d.winInd&vcdSource != 0 && d.src == nil {
				return EventNeedSource, nil
			}
			if !d.outAllocated {
				d.allocateOutput()
			}
			return d.doEmit()

		case stFinish:
			d.lastWinStart = d.winStart
			d.windowCount++
			d.state = stWinInd
			return EventWinFinish, nil

		default:
			return 0, internalError("invalid decoder state %d", d.state)
		}
	}
}

// varintLen returns the number of bytes the canonical big-endian base-128
// encoding of v occupies, used for the enclen cross-check in spec.md
// Section 4.7.
func varintLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func (d *Decoder) finishBypass() (Event, error) {
	d.avail = 0
	d.out = nil
	d.state = stFinish
	return EventOutput, nil
}

func (d *Decoder) doSkipWindow() (Event, error) {
	need := d.dataSect.size + d.instSect.size + d.addrSect.size
	for d.skipCount < need {
		if len(d.pending) == 0 {
			return EventNeedInput, nil
		}
		take := need - d.skipCount
		if uint32(len(d.pending)) < take {
			take = uint32(len(d.pending))
		}
		d.pending = d.pending[take:]
		d.skipCount += take
	}
	d.skipCount = 0
	return d.finishBypass()
}

func (d *Decoder) allocateOutput() {
	need := roundUpAlloc(d.tgtlen)
	if uint32(cap(d.outBuf)) < need {
		d.outBuf = make([]byte, need)
	}
	d.out = d.outBuf[:d.tgtlen]
	d.avail = 0
	d.space = d.tgtlen
	d.outAllocated = true
}

// doEmit is the hot path: decode instruction pairs and apply each half,
// re-entering cleanly if a COPY suspends on a missing source block.
func (d *Decoder) doEmit() (Event, error) {
	for !d.instSect.exhausted() || d.cur1.Type != NoOp || d.cur2.Type != NoOp {
		if d.cur1.Type == NoOp && d.cur2.Type == NoOp {
			if err := d.decodeInstruction(); err != nil {
				return 0, err
			}
		}
		if suspended, err := d.outputHalf(&d.cur1); err != nil {
			return 0, err
		} else if suspended {
			return EventNeedSourceBlock, nil
		}
		if suspended, err := d.outputHalf(&d.cur2); err != nil {
			return 0, err
		} else if suspended {
			return EventNeedSourceBlock, nil
		}
	}
	return d.finishEmit()
}

func (d *Decoder) decodeInstruction() error {
	code, ok := d.instSect.readByte()
	if !ok {
		return malformed("instruction underflow")
	}
	e0 := d.table.get(code, 0)
	e1 := d.table.get(code, 1)
	d.cur1 = halfInst{Type: e0.Type, Size: uint32(e0.Size), Mode: e0.Mode}
	d.cur2 = halfInst{Type: e1.Type, Size: uint32(e1.Size), Mode: e1.Mode}

	if d.cur1.Type != NoOp {
		if err := d.parseHalf(&d.cur1); err != nil {
			return err
		}
	}
	if d.cur2.Type != NoOp {
		if err := d.parseHalf(&d.cur2); err != nil {
			return err
		}
	}
	return nil
}

// parseHalf resolves a half-instruction's size (and, for COPY, its
// address), bounds-checks it against dec_position/dec_maxpos, and advances
// dec_position - spec.md Section 4.5.
func (d *Decoder) parseHalf(inst *halfInst) error {
	if inst.Size == 0 {
		v, err := readVarintFrom(d.instSect.data, &d.instSect.pos)
		if err != nil {
			return err
		}
		inst.Size = v
	}

	if inst.Type == Copy {
		addr, err := d.acache.decode(d.position, inst.Mode)
		if err != nil {
			return err
		}
		if addr >= d.position {
			return malformed("copy address %d too large for position %d", addr, d.position)
		}
		if addr < d.cpylen {
			sum, ok := addUint32Checked(addr, inst.Size)
			if !ok || sum > d.cpylen {
				return malformed("copy size too large: addr %d size %d cpylen %d", addr, inst.Size, d.cpylen)
			}
		}
		inst.Addr = addr
	}

	sum, ok := addUint32Checked(d.position, inst.Size)
	if !ok || sum > d.maxPos {
		return malformed("size too large: position %d + size %d exceeds window bound %d", d.position, inst.Size, d.maxPos)
	}
	d.position = sum
	return nil
}

// outputHalf fully satisfies inst, looping across source-block boundaries
// as needed, or reports that it suspended waiting on a block.
func (d *Decoder) outputHalf(inst *halfInst) (suspended bool, err error) {
	for inst.Type != NoOp {
		susp, err := d.outputHalfOnce(inst)
		if err != nil {
			return false, err
		}
		if susp {
			return true, nil
		}
	}
	return false, nil
}

func (d *Decoder) outputHalfOnce(inst *halfInst) (bool, error) {
	take := inst.Size
	newAvail, ok := addUint32Checked(d.avail, take)
	if !ok || newAvail > d.space {
		return false, malformed("overflow while decoding: avail_out %d + %d exceeds space %d", d.avail, take, d.space)
	}

	switch inst.Type {
	case Run:
		b, ok := d.dataSect.readByte()
		if !ok {
			return false, malformed("data underflow decoding RUN")
		}
		dst := d.out[d.avail : d.avail+take]
		for i := range dst {
			dst[i] = b
		}
		d.avail += take
		inst.Type = NoOp
		return false, nil

	case Add:
		chunk, ok := d.dataSect.take(take)
		if !ok {
			return false, malformed("data underflow decoding ADD")
		}
		copy(d.out[d.avail:d.avail+take], chunk)
		d.avail += take
		inst.Type = NoOp
		return false, nil

	case Copy:
		if inst.Addr < d.cpylen {
			if d.winInd&vcdTarget != 0 {
				return false, unsupported("VCD_TARGET copies are not implemented")
			}
			return d.copyFromSource(inst)
		}
		// In-target copy: read from bytes already emitted this window.
		// Must proceed byte by byte (not a bulk move) so overlapping
		// copies correctly expand, e.g. "ab" + COPY(addr=cpylen,size=6)
		// produces "ababab".
		srcStart := inst.Addr - d.cpylen
		dstStart := d.avail
		for i := uint32(0); i < take; i++ {
			d.out[dstStart+i] = d.out[srcStart+i]
		}
		d.avail += take
		inst.Type = NoOp
		return false, nil

	default:
		return false, internalError("unexpected half-instruction type %v in emit", inst.Type)
	}
}

// copyFromSource satisfies a COPY referencing the external source
// document, spanning multiple blocks if necessary. It mutates inst in
// place so a NeedSourceBlock suspend resumes exactly where it left off.
func (d *Decoder) copyFromSource(inst *halfInst) (bool, error) {
	take := inst.Size
	offset, ok := addUint64Checked(d.cpyoff, uint64(inst.Addr))
	if !ok {
		return false, malformed("source copy offset overflow")
	}
	block, blkoff := blockIndexOf(offset, d.src.BlockSize)

	data, onBlock, ready := d.src.Provider.Block(block)
	if !ready {
		d.pendingBlock = block
		return true, nil
	}
	if onBlock != int(d.src.BlockSize) && blkoff+take > uint32(onBlock) {
		return false, sourceTooShort("source block %d holds %d bytes, need %d at offset %d", block, onBlock, take, blkoff)
	}

	avail := uint32(onBlock) - blkoff
	chunk := take
	if chunk > avail {
		chunk = avail
	}
	src := data[blkoff : blkoff+chunk]
	copy(d.out[d.avail:d.avail+chunk], src)
	d.avail += chunk

	if chunk == take {
		inst.Type = NoOp
		inst.Size = 0
	} else {
		inst.Size -= chunk
		inst.Addr += chunk
	}
	return false, nil
}

func (d *Decoder) finishEmit() (Event, error) {
	if d.avail != d.tgtlen {
		return 0, malformed("wrong window length: avail_out %d != tgtlen %d", d.avail, d.tgtlen)
	}
	if !d.dataSect.exhausted() {
		return 0, malformed("extra data section bytes remain")
	}
	if !d.addrSect.exhausted() {
		return 0, malformed("extra address section bytes remain")
	}
	if d.winInd&vcdAdler32 != 0 && !d.flags.has(FlagAdler32NoVerify) {
		got := adler32Checksum(1, d.out[:d.avail])
		if got != d.cksum {
			return 0, checksumMismatch(d.cksum, got)
		}
	}
	d.state = stFinish
	return EventOutput, nil
}
