package vcdiff

// InstructionType identifies what a half-instruction does.
type InstructionType byte

const (
	NoOp InstructionType = iota
	Add
	Run
	Copy
)

func (it InstructionType) String() string {
	switch it {
	case NoOp:
		return "NOOP"
	case Add:
		return "ADD"
	case Run:
		return "RUN"
	case Copy:
		return "COPY"
	default:
		return "UNKNOWN"
	}
}

// codeTableInst is one half of a code table entry: the instruction type, a
// literal size (0 meaning "read a size varint instead"), and - for COPY -
// the address cache mode to decode with.
type codeTableInst struct {
	Type InstructionType
	Size byte
	Mode byte
}

// halfInst is a live half-instruction register (current1/current2 in the
// spec). Type == NoOp marks it consumed; partially satisfied COPYs have
// Size reduced and Addr advanced in place so emission can resume after a
// NeedSourceBlock suspend without re-decoding anything.
type halfInst struct {
	Type InstructionType
	Size uint32
	Mode byte
	Addr uint32
}
