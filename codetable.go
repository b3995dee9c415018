package vcdiff

// codeTable is the VCDIFF instruction code table: 256 opcodes, each mapping
// to up to two half-instructions.
type codeTable struct {
	entries [256][2]codeTableInst
}

func (ct *codeTable) get(code byte, slot int) codeTableInst {
	return ct.entries[code][slot]
}

// buildDefaultCodeTable constructs the RFC 3284 default code table. Custom
// code tables are rejected elsewhere with ErrUnsupported; this is the only
// table this decoder ever uses.
func buildDefaultCodeTable() *codeTable {
	ct := &codeTable{}

	// Entry 0: RUN with size 0 (size is always read from the inst stream).
	ct.entries[0][0] = codeTableInst{Run, 0, 0}

	// Entries 1-18: ADD with sizes 0-17.
	for i := byte(0); i < 18; i++ {
		ct.entries[i+1][0] = codeTableInst{Add, i, 0}
	}

	index := 19

	// Entries 19-162: COPY instructions across the 9 address modes
	// (SELF, HERE, 4 NEAR, 3 SAME), size 0 (read from stream) then 4-18.
	for mode := byte(0); mode < 9; mode++ {
		ct.entries[index][0] = codeTableInst{Copy, 0, mode}
		index++
		for size := byte(4); size < 19; size++ {
			ct.entries[index][0] = codeTableInst{Copy, size, mode}
			index++
		}
	}

	// Entries 163-234: combined ADD+COPY for modes 0-5, add size 1-4, copy
	// size 4-6.
	for mode := byte(0); mode < 6; mode++ {
		for addSize := byte(1); addSize < 5; addSize++ {
			for copySize := byte(4); copySize < 7; copySize++ {
				ct.entries[index][0] = codeTableInst{Add, addSize, 0}
				ct.entries[index][1] = codeTableInst{Copy, copySize, mode}
				index++
			}
		}
	}

	// Entries 235-246: combined ADD+COPY for modes 6-8, add size 1-4, copy
	// size fixed at 4.
	for mode := byte(6); mode < 9; mode++ {
		for addSize := byte(1); addSize < 5; addSize++ {
			ct.entries[index][0] = codeTableInst{Add, addSize, 0}
			ct.entries[index][1] = codeTableInst{Copy, 4, mode}
			index++
		}
	}

	// Entries 247-255: COPY (size 4, all 9 modes) + ADD size 1.
	for mode := byte(0); mode < 9; mode++ {
		ct.entries[index][0] = codeTableInst{Copy, 4, mode}
		ct.entries[index][1] = codeTableInst{Add, 1, 0}
		index++
	}

	return ct
}

var defaultCodeTable = buildDefaultCodeTable()
