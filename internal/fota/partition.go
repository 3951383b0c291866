package fota

// Partition is the flash interface the handler writes images through.
type Partition interface {
	// Begin opens the inactive slot for an image of exactly size bytes.
	Begin(size int) (Update, error)
}

// Update is an open write to the inactive slot.
//
// The boot target changes only through SetBootTarget. Abort discards the
// write, including one that Finish already validated.
type Update interface {
	Write(p []byte) error

	// Finish completes the write and validates the image.
	Finish() error

	// SetBootTarget makes the written slot boot next.
	SetBootTarget() error

	Abort()
}
