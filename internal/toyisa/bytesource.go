package toyisa

// SliceSource is the simplest possible ir.ByteSource: a flat byte slice
// addressed from zero. Reads past the end return as many bytes as are
// available rather than failing, mirroring how a real memory image reads
// short at its final page.
type SliceSource []byte

func (s SliceSource) Read(offset uint64, length int) ([]byte, error) {
	if offset >= uint64(len(s)) {
		return nil, nil
	}
	end := offset + uint64(length)
	if end > uint64(len(s)) {
		end = uint64(len(s))
	}
	return s[offset:end], nil
}
