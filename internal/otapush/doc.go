// Package otapush is the operator side of the firmware update protocol.
//
// Push announces an image to a node over UDP, waits for the node's OK,
// accepts the node's TCP connection and streams the image one chunk per
// acknowledgement. Discover browses mDNS for nodes advertising the update
// service.
package otapush
