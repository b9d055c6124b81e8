package writer

// MemWriter captures image bytes in memory.
type MemWriter struct {
	Buf []byte
}

// WriteImage keeps a private copy of img.
func (w *MemWriter) WriteImage(img []byte) error {
	w.Buf = append(w.Buf[:0], img...)
	return nil
}
