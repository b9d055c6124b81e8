// Package ustream implements ref-counted, clonable read cursors over a byte
// source that may be a resident buffer or a blob being downloaded chunk by
// chunk.
//
// A control block owns the source and counts the streams sharing it. Each
// Stream keeps its own cursor:
//
//	current     bytes of the source consumed by this stream
//	firstValid  earliest position the stream may still go back to
//	offsetDiff  externally visible position minus current
//
// so clones can expose different logical offsets over one source. The last
// Dispose of a control block releases the data, then the control block, then
// (for blobs) the transport.
//
// Flat streams support seeking within [firstValid, length]. Blob streams are
// forward only.
package ustream
