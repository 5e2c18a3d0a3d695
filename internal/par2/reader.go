package par2

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketReader streams PAR2 packets out of an io.Reader, one header at a
// time, skipping packet bodies it has no interest in.
type PacketReader struct {
	r io.Reader
}

// NewPacketReader wraps r for sequential PAR2 packet reads.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: r}
}

// ReadHeader reads and validates the next packet header.
func (pr *PacketReader) ReadHeader() (*Header, error) {
	h := &Header{}
	if err := binary.Read(pr.r, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("par2: read header: %w", err)
	}
	if h.Magic != MagicBytes {
		return nil, fmt.Errorf("par2: bad magic signature")
	}
	if h.Length < HeaderSize {
		return nil, fmt.Errorf("par2: packet length %d below header size %d", h.Length, HeaderSize)
	}
	if h.Length%4 != 0 {
		return nil, fmt.Errorf("par2: packet length %d not a multiple of 4", h.Length)
	}
	return h, nil
}

// ReadFileDescriptor reads a FileDesc packet body. header must already have
// been validated as PacketTypeFileDesc.
func (pr *PacketReader) ReadFileDescriptor(header *Header) (*FileDescriptor, error) {
	if header.Type != PacketTypeFileDesc {
		return nil, fmt.Errorf("par2: not a FileDesc packet")
	}

	bodyLen := header.Length - HeaderSize
	if bodyLen < minFileDescBody {
		return nil, fmt.Errorf("par2: FileDesc packet too small: %d bytes", bodyLen)
	}

	desc := &FileDescriptor{}
	if err := binary.Read(pr.r, binary.LittleEndian, &desc.FileID); err != nil {
		return nil, fmt.Errorf("par2: read FileID: %w", err)
	}
	if err := binary.Read(pr.r, binary.LittleEndian, &desc.FullMD5); err != nil {
		return nil, fmt.Errorf("par2: read FullMD5: %w", err)
	}
	if err := binary.Read(pr.r, binary.LittleEndian, &desc.Hash16k); err != nil {
		return nil, fmt.Errorf("par2: read Hash16k: %w", err)
	}
	if err := binary.Read(pr.r, binary.LittleEndian, &desc.Length); err != nil {
		return nil, fmt.Errorf("par2: read Length: %w", err)
	}

	nameLen := bodyLen - minFileDescBody
	if nameLen > 0 {
		raw := make([]byte, nameLen)
		if _, err := io.ReadFull(pr.r, raw); err != nil {
			return nil, fmt.Errorf("par2: read name: %w", err)
		}
		end := len(raw)
		for end > 0 && (raw[end-1] == 0 || raw[end-1] < 32) {
			end--
		}
		desc.Name = string(raw[:end])
	}

	return desc, nil
}

// SkipBody discards the remainder of a packet whose type the caller is not
// interested in.
func (pr *PacketReader) SkipBody(header *Header) error {
	remaining := header.Length - HeaderSize
	if remaining == 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, pr.r, int64(remaining))
	if err != nil {
		return fmt.Errorf("par2: skip body: %w", err)
	}
	return nil
}

// ReadFileDescriptors streams every FileDesc packet out of r, in the order
// encountered, up to maxPackets total packets inspected. Used by the
// DirectParLoader and the par-renamer's main-par-file load.
func ReadFileDescriptors(r io.Reader, maxPackets int) ([]FileDescriptor, error) {
	pr := NewPacketReader(r)
	var out []FileDescriptor

	for i := 0; maxPackets <= 0 || i < maxPackets; i++ {
		header, err := pr.ReadHeader()
		if err != nil {
			if err == io.EOF {
				break
			}
			// A malformed trailing packet ends the scan but keeps whatever
			// descriptors were already read.
			break
		}

		if header.Type == PacketTypeFileDesc {
			desc, err := pr.ReadFileDescriptor(header)
			if err != nil {
				continue
			}
			out = append(out, *desc)
			continue
		}

		if err := pr.SkipBody(header); err != nil {
			break
		}
	}

	return out, nil
}
