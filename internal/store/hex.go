package store

import (
	"encoding/hex"
	"errors"
	"strings"
)

var errFieldUnderflow = errors.New("store: record line has fewer fields than expected")

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

// stripTag drops a record line's leading "<tag>\t" prefix, since every
// record line is written via stringsBuilder.writeLine and every reader
// parses only the fields after the tag.
func stripTag(line string) string {
	_, rest, _ := strings.Cut(line, "\t")
	return rest
}
