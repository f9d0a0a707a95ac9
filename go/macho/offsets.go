package macho

// Header magics, from xnu EXTERNAL_HEADERS/mach-o/loader.h
const (
	MH_MAGIC    uint32 = 0xfeedface
	MH_CIGAM    uint32 = 0xcefaedfe
	MH_MAGIC_64 uint32 = 0xfeedfacf
	MH_CIGAM_64 uint32 = 0xcffaedfe
)

// Load command types
const (
	LC_SYMTAB     uint32 = 0x2
	LC_SEGMENT_64 uint32 = 0x19
)

// FormatOffsets holds byte offsets into Mach-O records. The layout is
// fixed by the ABI, so there is exactly one value of it per format.
type FormatOffsets struct {
	// mach_header_64
	NumberOfCommands uint64
	LoadCommands     uint64
	HeaderSize       uint64

	// load_command
	CommandSize uint64

	// symtab_command
	SymtabOffset    uint64
	NumberOfSymbols uint64
	StrtabOffset    uint64

	// nlist_64
	NlistValue      uint64
	SizeOfNlistItem uint64

	// segment_command_64
	Segcmd64Vmaddr   uint64
	Segcmd64Fileoff  uint64
	Segcmd64Filesize uint64
	Segcmd64Nsects   uint64
	SizeofSegcmd64   uint64

	// section_64
	Sect64Vmaddr  uint64
	Sect64Fileoff uint64
	SizeofSect64  uint64
}

// Offsets64 is the layout of 64-bit Mach-O images.
var Offsets64 = FormatOffsets{
	NumberOfCommands: 0x10,
	LoadCommands:     0x20,
	HeaderSize:       0x20,

	CommandSize: 0x04,

	SymtabOffset:    0x08,
	NumberOfSymbols: 0x0c,
	StrtabOffset:    0x10,

	NlistValue:      0x08,
	SizeOfNlistItem: 0x10,

	Segcmd64Vmaddr:   0x18,
	Segcmd64Fileoff:  0x28,
	Segcmd64Filesize: 0x30,
	// maxprot and initprot are vm_prot_t (4 bytes each) at 0x38
	Segcmd64Nsects: 0x40,
	SizeofSegcmd64: 0x48,

	Sect64Vmaddr:  0x20,
	Sect64Fileoff: 0x30,
	SizeofSect64:  0x50,
}
