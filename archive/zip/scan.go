package zip

import (
	"encoding/binary"
	"time"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/internal/pathutil"
)

const (
	localHeaderSig   = 0x04034b50
	centralHeaderSig = 0x02014b50
	localHeaderLen   = 30

	flagDataDescriptor = 0x8
	zip64ExtraID       = 0x0001
	uint32Max          = 0xffffffff
)

// ScanLocalHeaders walks the local file headers at the start of data and
// returns the entries whose headers fit. complete reports that the walk
// reached the central directory, so no entry was missed.
func ScanLocalHeaders(data []byte) (entries []archive.Entry, complete bool) {
	off := 0
	for off+4 <= len(data) {
		switch binary.LittleEndian.Uint32(data[off:]) {
		case localHeaderSig:
		case centralHeaderSig:
			return entries, true
		default:
			return entries, false
		}
		if off+localHeaderLen > len(data) {
			return entries, false
		}
		h := data[off : off+localHeaderLen]
		flags := binary.LittleEndian.Uint16(h[6:])
		method := binary.LittleEndian.Uint16(h[8:])
		modTime := binary.LittleEndian.Uint16(h[10:])
		modDate := binary.LittleEndian.Uint16(h[12:])
		crc := binary.LittleEndian.Uint32(h[14:])
		csize := uint64(binary.LittleEndian.Uint32(h[18:]))
		usize := uint64(binary.LittleEndian.Uint32(h[22:]))
		nameLen := int(binary.LittleEndian.Uint16(h[26:]))
		extraLen := int(binary.LittleEndian.Uint16(h[28:]))

		nameStart := off + localHeaderLen
		dataStart := nameStart + nameLen + extraLen
		if dataStart > len(data) {
			return entries, false
		}
		name := string(data[nameStart : nameStart+nameLen])
		if csize == uint32Max || usize == uint32Max {
			usize, csize = zip64Sizes(data[nameStart+nameLen:dataStart], usize, csize)
		}

		e := archive.Entry{
			Path:  pathutil.Clean(name),
			IsDir: pathutil.IsDirName(name),
			Index: len(entries),
		}
		deferred := flags&flagDataDescriptor != 0 && csize == 0 && !e.IsDir
		if !deferred {
			e.Size = usize
			c := csize
			e.CompressedSize = &c
			if !e.IsDir {
				e.CRC32 = &crc
			}
		} else {
			e.SetMeta("size_deferred", "true")
		}
		if mt := dosTime(modDate, modTime); !mt.IsZero() {
			e.ModifiedTime = &mt
		}
		e.SetMeta("method", MethodName(method))
		entries = append(entries, e)

		if deferred {
			return entries, false
		}
		if csize > uint64(len(data)-dataStart) {
			return entries, false
		}
		off = dataStart + int(csize)
	}
	return entries, false
}

// zip64Sizes reads the sizes from a ZIP64 extended information field.
// Only fields whose 32-bit value is saturated are present, in order.
func zip64Sizes(extra []byte, usize, csize uint64) (uint64, uint64) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		n := int(binary.LittleEndian.Uint16(extra[2:]))
		extra = extra[4:]
		if n > len(extra) {
			break
		}
		field := extra[:n]
		extra = extra[n:]
		if id != zip64ExtraID {
			continue
		}
		if usize == uint32Max && len(field) >= 8 {
			usize = binary.LittleEndian.Uint64(field)
			field = field[8:]
		}
		if csize == uint32Max && len(field) >= 8 {
			csize = binary.LittleEndian.Uint64(field)
		}
		break
	}
	return usize, csize
}

// dosTime converts an MS-DOS date and time. A zero date yields the zero
// time.
func dosTime(d, t uint16) time.Time {
	if d == 0 {
		return time.Time{}
	}
	return time.Date(
		int(d>>9)+1980,
		time.Month(d>>5&0xf),
		int(d&0x1f),
		int(t>>11),
		int(t>>5&0x3f),
		int(t&0x1f)*2,
		0,
		time.UTC,
	)
}
