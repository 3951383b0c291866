// Package partition implements the firmware update partition on a host
// filesystem.
//
// Two slot files, app0.bin and app1.bin, play the role of the A/B flash
// partitions. An update is written into the slot that is not running
// through a memory mapping, validated as an ELF executable on Finish and
// activated by recording its index in the settings store. The boot
// supervisor asks ActiveImage which binary to launch.
//
// Until SetBootTarget succeeds the recorded boot slot is never touched, so
// an aborted or invalid update leaves the running image in place.
package partition
