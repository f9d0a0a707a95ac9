package models

// SegmentData is a file-backed segment of an image on disk.
type SegmentData struct {
	Name       string
	Off        uint64
	Addr, Size uint64
	FileSize   uint64
	Prot       int
	DataFunc   func() ([]byte, error)
}

func (s *SegmentData) Data() ([]byte, error) {
	return s.DataFunc()
}
