package fota

import "errors"

// Discovery validation errors.
var (
	ErrPacketTooShort     = errors.New("fota: discovery packet too short")
	ErrSenderNotIPv4      = errors.New("fota: discovery sender is not an IPv4 address")
	ErrMalformedDiscovery = errors.New("fota: malformed discovery packet")
	ErrInvalidCommand     = errors.New("fota: command must be a single character")
	ErrInvalidPort        = errors.New("fota: invalid stream port")
	ErrImageTooSmall      = errors.New("fota: declared image size below minimum")
	ErrTransferInProgress = errors.New("fota: transfer already in progress")
)

// Transfer and commit errors.
var (
	ErrConnect        = errors.New("fota: connecting to peer failed")
	ErrStreamRead     = errors.New("fota: reading chunk failed")
	ErrStreamWrite    = errors.New("fota: sending acknowledgement failed")
	ErrWatchdog       = errors.New("fota: watchdog expired")
	ErrSizeOverrun    = errors.New("fota: received more bytes than declared")
	ErrPartitionBegin = errors.New("fota: opening update partition failed")
	ErrPartitionWrite = errors.New("fota: writing update partition failed")
	ErrFinish         = errors.New("fota: finishing update partition failed")
	ErrBootTarget     = errors.New("fota: setting boot target failed")
)
