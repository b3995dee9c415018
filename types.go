// Package vcdiff implements a streaming decoder for the VCDIFF delta
// encoding format (RFC 3284): header, windows, a code-table-driven
// instruction stream, and the three copy modes RUN/ADD/COPY. Only VCDIFF
// version 0 with the RFC 3284 default code table is supported; VCD_TARGET
// (cross-target copies) is not implemented.
package vcdiff

// VCDIFF magic bytes and version - RFC 3284 Section 4.1.
const (
	magicByte0    = 0xD6
	magicByte1    = 0xC3
	magicByte2    = 0xC4
	vcdiffVersion = 0x00
)

// Header indicator flags - RFC 3284 Section 4.1.
const (
	vcdDecompress byte = 0x01 // VCD_SECONDARY
	vcdCodetable  byte = 0x02
	vcdAppHeader  byte = 0x04
	vcdInvHdr     byte = ^(vcdDecompress | vcdCodetable | vcdAppHeader)
)

// Window indicator flags - RFC 3284 Section 4.2.
const (
	vcdSource  byte = 0x01
	vcdTarget  byte = 0x02
	vcdAdler32 byte = 0x04
	vcdInvWin  byte = ^(vcdSource | vcdTarget | vcdAdler32)
)

// Delta indicator flags - RFC 3284 Section 4.3.
const (
	vcdDataComp byte = 0x01
	vcdInstComp byte = 0x02
	vcdAddrComp byte = 0x04
	vcdInvDel   byte = ^(vcdDataComp | vcdInstComp | vcdAddrComp)
)

// Address cache configuration for the RFC 3284 default code table.
const (
	defaultNearCacheSize = 4
	defaultSameCacheSize = 3
)

// allocQuantum is the rounding granularity used when a section or the
// output buffer must grow an owned allocation. The output buffer is kept
// across windows, so later windows of similar size reuse its backing array;
// a section's owned buffer is dropped when the section is reset for the
// next window.
const allocQuantum = 256

func roundUpAlloc(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	rem := n % allocQuantum
	if rem == 0 {
		return n
	}
	return n + (allocQuantum - rem)
}

// Flags control optional caller behavior, mirroring the xdelta3 decoder's
// XD3_* flag bits.
type Flags uint8

const (
	// FlagJustHeader ends every window right after its header: the
	// window's sections are not read, and Step returns an empty EventOutput
	// followed by EventWinFinish. The unread section bytes stay in the
	// input, so no window after the first decodes correctly.
	FlagJustHeader Flags = 1 << iota
	// FlagSkipWindow consumes a window's payload without decoding it.
	FlagSkipWindow
	// FlagSkipEmit parses sections but does not materialize target bytes.
	FlagSkipEmit
	// FlagAdler32NoVerify disables checksum verification even if present.
	FlagAdler32NoVerify
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Event is returned by Decoder.Step to tell the caller what happened and
// what it must do before calling Step again.
type Event int

const (
	// EventNeedInput means the caller must Feed more bytes and re-invoke Step.
	EventNeedInput Event = iota
	// EventGotHeader means the stream header and the first window's header
	// have been parsed; it takes the place of EventWinStart for the first
	// window. A stream with no windows never returns it.
	EventGotHeader
	// EventWinStart means a window after the first is about to be decoded;
	// WindowInfo is available for inspection.
	EventWinStart
	// EventOutput means a window's target bytes are ready via Output.
	EventOutput
	// EventWinFinish means window bookkeeping is complete.
	EventWinFinish
	// EventNeedSource means a VCD_SOURCE window was seen but no Source was
	// attached via AttachSource.
	EventNeedSource
	// EventNeedSourceBlock means a COPY referenced a source block that is
	// not resident; call PendingBlock to see which one, make it ready in
	// the attached BlockProvider, then Step again.
	EventNeedSourceBlock
)

func (e Event) String() string {
	switch e {
	case EventNeedInput:
		return "NeedInput"
	case EventGotHeader:
		return "GotHeader"
	case EventWinStart:
		return "WinStart"
	case EventOutput:
		return "Output"
	case EventWinFinish:
		return "WinFinish"
	case EventNeedSource:
		return "NeedSource"
	case EventNeedSourceBlock:
		return "NeedSourceBlock"
	default:
		return "Unknown"
	}
}

// Header carries the fields parsed once at the start of a VCDIFF stream.
type Header struct {
	Indicator   byte
	SecondaryID byte
	HasSecondID bool
	AppHeader   []byte
}

// WindowInfo describes the window currently being decoded, valid from
// EventWinStart (EventGotHeader for the first window) through
// EventWinFinish.
type WindowInfo struct {
	Index              int
	Indicator          byte
	SourceSegmentSize  uint32
	SourceSegmentPos   uint64
	TargetWindowLength uint32
	DeltaIndicator     byte
	HasChecksum        bool
	Checksum           uint32
}
