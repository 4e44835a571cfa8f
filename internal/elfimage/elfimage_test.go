package elfimage_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armflash/probe/internal/elfimage"
)

// writeMinimalELF32 hand-assembles the smallest valid little-endian ELF32
// executable with one PT_LOAD segment carrying data at paddr, avoiding any
// dependency on a cross-compiler toolchain being present in the test
// environment.
func writeMinimalELF32(t *testing.T, paddr uint32, data []byte) string {
	t.Helper()

	const ehdrSize = 52
	const phdrSize = 32

	buf := make([]byte, ehdrSize+phdrSize+len(data))

	copy(buf[0:4], []byte{0x7F, 'E', 'L', 'F'})
	buf[4] = 1 // ELFCLASS32
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	le16 := binary.LittleEndian.PutUint16
	le32 := binary.LittleEndian.PutUint32

	le16(buf[16:18], 2)           // e_type = ET_EXEC
	le16(buf[18:20], 40)          // e_machine = EM_ARM
	le32(buf[20:24], 1)           // e_version
	le32(buf[24:28], paddr)       // e_entry
	le32(buf[28:32], ehdrSize)    // e_phoff
	le32(buf[32:36], 0)           // e_shoff
	le32(buf[36:40], 0)           // e_flags
	le16(buf[40:42], ehdrSize)    // e_ehsize
	le16(buf[42:44], phdrSize)    // e_phentsize
	le16(buf[44:46], 1)           // e_phnum
	le16(buf[46:48], 0)           // e_shentsize
	le16(buf[48:50], 0)           // e_shnum
	le16(buf[50:52], 0)           // e_shstrndx

	phOff := ehdrSize
	le32(buf[phOff:phOff+4], 1)                       // p_type = PT_LOAD
	le32(buf[phOff+4:phOff+8], uint32(ehdrSize+phdrSize)) // p_offset
	le32(buf[phOff+8:phOff+12], paddr)                // p_vaddr
	le32(buf[phOff+12:phOff+16], paddr)               // p_paddr
	le32(buf[phOff+16:phOff+20], uint32(len(data)))   // p_filesz
	le32(buf[phOff+20:phOff+24], uint32(len(data)))   // p_memsz
	le32(buf[phOff+24:phOff+28], 5)                   // p_flags = R+X
	le32(buf[phOff+28:phOff+32], 4)                   // p_align

	copy(buf[ehdrSize+phdrSize:], data)

	path := filepath.Join(t.TempDir(), "firmware.elf")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestExtractFragments_WithinSingleRegion(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	path := writeMinimalELF32(t, 0x08000000, data)

	frags, err := elfimage.ExtractFragments(path, []elfimage.Region{
		{Start: 0x08000000, End: 0x08010000},
	})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.Equal(t, uint32(0x08000000), frags[0].Address)
	require.Equal(t, data, frags[0].Data)
}

func TestExtractFragments_DiscardsOutsideRegions(t *testing.T) {
	data := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	path := writeMinimalELF32(t, 0x20000000, data) // RAM address, not flash

	frags, err := elfimage.ExtractFragments(path, []elfimage.Region{
		{Start: 0x08000000, End: 0x08010000},
	})
	require.NoError(t, err)
	require.Empty(t, frags)
}

func TestExtractFragments_ClipsPartialOverlap(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	path := writeMinimalELF32(t, 0x08000FFE, data) // straddles 0x08001000

	frags, err := elfimage.ExtractFragments(path, []elfimage.Region{
		{Start: 0x08000000, End: 0x08001000},
	})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.Equal(t, uint32(0x08000FFE), frags[0].Address)
	require.Equal(t, []byte{1, 2}, frags[0].Data)
}
