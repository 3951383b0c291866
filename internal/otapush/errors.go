package otapush

import "errors"

var (
	ErrImageTooSmall   = errors.New("otapush: image below minimum size")
	ErrImageTooLarge   = errors.New("otapush: image above maximum size")
	ErrNoAnswer        = errors.New("otapush: node did not acknowledge the announcement")
	ErrRefused         = errors.New("otapush: node refused the announcement")
	ErrNoConnection    = errors.New("otapush: node did not connect for the image stream")
	ErrBadAck          = errors.New("otapush: no chunk acknowledgement")
	ErrNotCommitted    = errors.New("otapush: node did not confirm the commit")
	ErrPacketTooShort  = errors.New("otapush: announcement shorter than the node accepts")
	ErrInvalidNodeAddr = errors.New("otapush: invalid node address")
)
