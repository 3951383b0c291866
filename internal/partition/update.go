package partition

import (
	"context"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/baozi-iot/baozi-node/internal/settings"
)

// update is one image being written into a slot. It implements
// fota.Update. Methods are called from a single transfer goroutine.
type update struct {
	slots *Slots
	slot  int
	path  string
	file  *os.File
	data  mmap.MMap

	written  int
	finished bool
	closed   bool
}

// Write copies b into the mapping.
func (u *update) Write(b []byte) error {
	if u.closed || u.finished {
		return ErrUpdateClosed
	}
	if u.written+len(b) > len(u.data) {
		return fmt.Errorf("%w: %d + %d > %d", ErrOverflow, u.written, len(b), len(u.data))
	}
	u.written += copy(u.data[u.written:], b)
	return nil
}

// Finish flushes and unmaps the slot, then validates the image.
func (u *update) Finish() error {
	if u.closed || u.finished {
		return ErrUpdateClosed
	}
	if u.written != len(u.data) {
		return fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, u.written, len(u.data))
	}

	if err := u.data.Flush(); err != nil {
		return fmt.Errorf("flushing slot %d: %w", u.slot, err)
	}
	if err := u.unmap(); err != nil {
		return err
	}
	u.finished = true

	if err := u.slots.validate(u.path); err != nil {
		return err
	}

	u.slots.logger.Info("update image validated", "slot", u.slot, "bytes", u.written)
	return nil
}

// SetBootTarget records the slot as the boot target.
func (u *update) SetBootTarget() error {
	if u.closed {
		return ErrUpdateClosed
	}
	if !u.finished {
		return ErrNotFinished
	}

	if err := u.slots.store.SetInt(context.Background(), settings.NamespaceBoot, KeyBootSlot, u.slot); err != nil {
		return fmt.Errorf("recording boot slot %d: %w", u.slot, err)
	}

	u.closed = true
	u.slots.release(u)
	u.slots.logger.Info("boot target set", "slot", u.slot, "path", u.path)
	return nil
}

// Abort discards the partial image. It is safe to call more than once.
func (u *update) Abort() {
	if u.closed {
		return
	}
	u.closed = true

	if err := u.unmap(); err != nil {
		u.slots.logger.Warn("releasing aborted slot failed", "slot", u.slot, "error", err)
	}
	if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
		u.slots.logger.Warn("removing aborted slot failed", "slot", u.slot, "error", err)
	}

	u.slots.release(u)
	u.slots.logger.Info("update aborted", "slot", u.slot, "written", u.written)
}

// unmap releases the mapping and the file handle.
func (u *update) unmap() error {
	if u.data != nil {
		if err := u.data.Unmap(); err != nil {
			return fmt.Errorf("unmapping slot %d: %w", u.slot, err)
		}
		u.data = nil
	}
	if u.file != nil {
		if err := u.file.Close(); err != nil {
			return fmt.Errorf("closing slot %d: %w", u.slot, err)
		}
		u.file = nil
	}
	return nil
}
