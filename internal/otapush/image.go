package otapush

import (
	"crypto/md5" //nolint:gosec // integrity token, not a security boundary
	"encoding/hex"
	"fmt"
	"os"

	"github.com/baozi-iot/baozi-node/internal/fota"
)

// MaxImageSize is the largest image the tool will push.
const MaxImageSize = 64 << 20

// Image is a firmware image ready to push.
type Image struct {
	Data []byte

	// Token is the hex MD5 digest sent as the integrity token.
	Token string
}

// NewImage wraps data, checking it against the node's size bounds.
// A minSize of zero uses fota.DefaultMinImageSize.
func NewImage(data []byte, minSize int) (Image, error) {
	if minSize <= 0 {
		minSize = fota.DefaultMinImageSize
	}
	if len(data) < minSize {
		return Image{}, fmt.Errorf("%w: %d < %d bytes", ErrImageTooSmall, len(data), minSize)
	}
	if len(data) > MaxImageSize {
		return Image{}, fmt.Errorf("%w: %d > %d bytes", ErrImageTooLarge, len(data), MaxImageSize)
	}

	sum := md5.Sum(data) //nolint:gosec // see import
	return Image{Data: data, Token: hex.EncodeToString(sum[:])}, nil
}

// LoadImage reads and checks an image file.
func LoadImage(path string, minSize int) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("reading image: %w", err)
	}
	return NewImage(data, minSize)
}

// Size returns the image length in bytes.
func (i Image) Size() int { return len(i.Data) }
