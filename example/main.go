package main

import (
	"fmt"
	"log"

	vcdiff "github.com/vcdiffgo/vcdiff"
)

// A minimal hand-built VCDIFF delta: a single ADD instruction producing
// "Hello, World!" with no source window.
var delta = []byte{
	0xD6, 0xC3, 0xC4, 0x00, // magic + version
	0x00,                   // header indicator
	0x00,                   // window indicator
	0x13,                   // enclen
	0x0D,                   // tgtlen (13)
	0x00,                   // delta indicator
	0x0D,                   // datalen (13)
	0x01,                   // instlen
	0x00,                   // addrlen
	'H', 'e', 'l', 'l', 'o', ',', ' ', 'W', 'o', 'r', 'l', 'd', '!',
	0x0E, // inst: opcode 14 = ADD, literal size 13 (code table entries 1-18 are ADD sizes 0-17)
}

func main() {
	d := vcdiff.NewDecoder()
	d.Feed(delta)

	var result []byte
	for {
		ev, err := d.Step()
		if err != nil {
			log.Fatalf("decode failed: %v", err)
		}
		switch ev {
		case vcdiff.EventNeedInput:
			if err := d.Finish(); err != nil {
				log.Fatalf("unexpected end of stream: %v", err)
			}
			fmt.Printf("Result: %q\n", result)
			return
		case vcdiff.EventOutput:
			result = append(result, d.Output()...)
		}
	}
}
