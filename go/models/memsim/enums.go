package memsim

// memory protections, matching the POSIX PROT_* bits
const (
	PROT_NONE  = 0
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
	PROT_ALL   = 7
)

// access faults reported through MemError.Enum
const (
	MEM_READ_UNMAPPED  = 19
	MEM_WRITE_UNMAPPED = 20
	MEM_READ_PROT      = 13
	MEM_WRITE_PROT     = 12
)
