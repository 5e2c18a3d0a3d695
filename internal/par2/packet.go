// Package par2 implements bit-exact parsing of the PAR2 packet wire
// format consumed by the rename/verify pipeline: the 64-byte packet
// header, the file-description packet, and the magic-byte sniff used by
// the article content analyzer.
package par2

// MagicBytes is the PAR2 packet magic signature "PAR2\0PKT".
var MagicBytes = [8]byte{'P', 'A', 'R', '2', 0, 'P', 'K', 'T'}

// Packet type identifiers.
var (
	PacketTypeMain          = [16]byte{'P', 'A', 'R', ' ', '2', '.', '0', 0, 'M', 'a', 'i', 'n', 0, 0, 0, 0}
	PacketTypeFileDesc      = [16]byte{'P', 'A', 'R', ' ', '2', '.', '0', 0, 'F', 'i', 'l', 'e', 'D', 'e', 's', 'c'}
	PacketTypeIFSC          = [16]byte{'P', 'A', 'R', ' ', '2', '.', '0', 0, 'I', 'F', 'S', 'C', 0, 0, 0, 0}
	PacketTypeRecoverySlice = [16]byte{'P', 'A', 'R', ' ', '2', '.', '0', 0, 'R', 'e', 'c', 'v', 'S', 'l', 'i', 'c'}
	PacketTypeCreator       = [16]byte{'P', 'A', 'R', ' ', '2', '.', '0', 0, 'C', 'r', 'e', 'a', 't', 'o', 'r', 0}
)

const (
	// HeaderSize is the size in bytes of the fixed PAR2 packet header.
	HeaderSize = 64

	// minFileDescBody is FileID(16) + FileMD5(16) + Hash16k(16) + Length(8).
	minFileDescBody = 56
)

// Header is the 64-byte header common to every PAR2 packet:
// 8-byte magic, 8-byte length (multiple of 4, >= HeaderSize), 16-byte MD5
// over the bytes after this field, 16-byte set id, 16-byte packet type.
type Header struct {
	Magic  [8]byte
	Length uint64
	MD5    [16]byte
	SetID  [16]byte
	Type   [16]byte
}

// FileDescriptor is a parsed PAR2 file-description packet:
// fileid, hashfull, hash16k, length, and a variable-length NUL-padded name.
type FileDescriptor struct {
	FileID  [16]byte
	FullMD5 [16]byte
	Hash16k [16]byte
	Length  uint64
	Name    string
}

// HasMagic reports whether data begins with the PAR2 packet magic
// signature.
func HasMagic(data []byte) bool {
	if len(data) < len(MagicBytes) {
		return false
	}
	for i := range MagicBytes {
		if data[i] != MagicBytes[i] {
			return false
		}
	}
	return true
}
