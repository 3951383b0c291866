package partition

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/baozi-iot/baozi-node/internal/fota"
	"github.com/baozi-iot/baozi-node/internal/settings"
)

// NoSlot means no slot has been activated yet; the factory image runs.
const NoSlot = -1

// KeyBootSlot is the settings key in settings.NamespaceBoot holding the
// boot slot index.
const KeyBootSlot = "slot"

const (
	dirPermissions   = 0750
	imagePermissions = 0755
)

var slotFiles = [2]string{"app0.bin", "app1.bin"}

var (
	// ErrUpdateInProgress is returned by Begin while another update is open.
	ErrUpdateInProgress = errors.New("partition: update already in progress")

	// ErrInvalidSize is returned by Begin for a non-positive size.
	ErrInvalidSize = errors.New("partition: invalid image size")

	// ErrOverflow is returned by Write past the size given to Begin.
	ErrOverflow = errors.New("partition: write exceeds image size")

	// ErrIncomplete is returned by Finish before the full image is written.
	ErrIncomplete = errors.New("partition: image incomplete")

	// ErrInvalidImage is returned by Finish when validation fails.
	ErrInvalidImage = errors.New("partition: invalid image")

	// ErrNotFinished is returned by SetBootTarget before Finish succeeds.
	ErrNotFinished = errors.New("partition: image not finished")

	// ErrUpdateClosed is returned by operations on an aborted or activated
	// update.
	ErrUpdateClosed = errors.New("partition: update closed")

	// ErrNoImage is returned by ActiveImage when nothing can be booted.
	ErrNoImage = errors.New("partition: no bootable image")
)

// BootStore persists the boot slot. *settings.Store implements it.
type BootStore interface {
	GetInt(ctx context.Context, namespace, key string) (int, error)
	SetInt(ctx context.Context, namespace, key string, value int) error
}

// Logger defines the logging interface for the partition.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Option configures Slots.
type Option func(*Slots)

// WithFactoryImage sets the binary booted when no slot is active.
func WithFactoryImage(path string) Option {
	return func(s *Slots) { s.factory = path }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(s *Slots) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithValidator replaces the image check run by Finish.
func WithValidator(fn func(path string) error) Option {
	return func(s *Slots) {
		if fn != nil {
			s.validate = fn
		}
	}
}

// Slots is the A/B slot pair. It implements fota.Partition.
type Slots struct {
	dir      string
	store    BootStore
	factory  string
	validate func(path string) error
	logger   Logger

	mu      sync.Mutex
	running int
	open    *update
}

// New opens the slot directory, creating it if needed. The slot recorded
// in store at this moment is treated as the running image.
func New(ctx context.Context, dir string, store BootStore, opts ...Option) (*Slots, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating slot directory: %w", err)
	}

	s := &Slots{
		dir:      dir,
		store:    store,
		validate: ValidateELF,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	running, err := s.BootSlot(ctx)
	if err != nil {
		return nil, err
	}
	s.running = running
	return s, nil
}

// BootSlot returns the recorded boot slot, or NoSlot.
func (s *Slots) BootSlot(ctx context.Context) (int, error) {
	slot, err := s.store.GetInt(ctx, settings.NamespaceBoot, KeyBootSlot)
	if errors.Is(err, settings.ErrNotFound) {
		return NoSlot, nil
	}
	if err != nil {
		return NoSlot, fmt.Errorf("reading boot slot: %w", err)
	}
	if slot < 0 || slot >= len(slotFiles) {
		s.logger.Warn("ignoring out-of-range boot slot", "slot", slot)
		return NoSlot, nil
	}
	return slot, nil
}

// Running returns the slot that was the boot target when Slots was created.
func (s *Slots) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Path returns the file of slot i.
func (s *Slots) Path(i int) string {
	return filepath.Join(s.dir, slotFiles[i])
}

// inactive returns the slot an update is written to.
func (s *Slots) inactive() int {
	if s.running == 0 {
		return 1
	}
	return 0
}

// Begin implements fota.Partition. It sizes the inactive slot file to size
// bytes and maps it for writing.
func (s *Slots) Begin(size int) (fota.Update, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != nil {
		return nil, ErrUpdateInProgress
	}

	slot := s.inactive()
	path := s.Path(slot)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, imagePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening slot %d: %w", slot, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing slot %d: %w", slot, err)
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping slot %d: %w", slot, err)
	}

	u := &update{slots: s, slot: slot, path: path, file: f, data: data}
	s.open = u

	s.logger.Info("update partition opened", "slot", slot, "path", path, "size", size)
	return u, nil
}

// ActiveImage returns the binary to boot: the recorded slot's file if it
// exists, otherwise the factory image.
func (s *Slots) ActiveImage(ctx context.Context) (string, error) {
	slot, err := s.BootSlot(ctx)
	if err != nil {
		return "", err
	}
	if slot != NoSlot {
		path := s.Path(slot)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		s.logger.Warn("boot slot image missing, falling back to factory image", "slot", slot, "path", path)
	}
	if s.factory != "" {
		if _, err := os.Stat(s.factory); err == nil {
			return s.factory, nil
		}
	}
	return "", ErrNoImage
}

func (s *Slots) release(u *update) {
	s.mu.Lock()
	if s.open == u {
		s.open = nil
	}
	s.mu.Unlock()
}

// ValidateELF checks that path is an ELF executable or position
// independent executable.
func ValidateELF(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return fmt.Errorf("%w: ELF type %s is not executable", ErrInvalidImage, f.Type)
	}
	return nil
}
