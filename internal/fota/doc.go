// Package fota implements the direct firmware-update handler.
//
// A peer on the local network announces an image with a single datagram on
// the discovery port:
//
//	<command> <streamPort> <declaredSize> <integrityToken>
//
// The handler validates the announcement, answers "OK" on the same
// datagram channel and dials back to the peer at streamPort. It then pulls
// the image in chunks, acknowledging each with its decimal byte count, and
// writes it to the update partition. A watchdog aborts the transfer when no
// chunk arrives within the timeout window.
//
// Once exactly the declared number of bytes has arrived the partition is
// finished and made the boot target, "OK" is sent on the stream and the
// process restarts into the new image. Any failure before that point leaves
// the running image as the boot target and returns the handler to listening.
//
// Only one transfer runs at a time. Announcements arriving while a transfer
// is in flight are rejected without an answer.
package fota
