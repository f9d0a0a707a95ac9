package models

// Process is read access to another address space.
//
// MemReadInto must either fill p completely or return an error. Unmapped
// and protected memory are expected, so callers treat errors as "nothing
// there" rather than as fatal.
type Process interface {
	MemReadInto(p []byte, addr uint64) error
	// ModulePath maps a loaded module's name to its file on disk.
	ModulePath(name string) (string, error)
}
