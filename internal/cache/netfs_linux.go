//go:build linux
// +build linux

package cache

import (
	"golang.org/x/sys/unix"
)

// Filesystem magic numbers of network and remote-backed mounts (statfs(2))
const (
	nfsMagic  uint32 = 0x6969
	smbMagic  uint32 = 0x517b
	smb2Magic uint32 = 0xfe534d42
	cifsMagic uint32 = 0xff534d42
	fuseMagic uint32 = 0x65735546 // sshfs, rclone mount, gvfs
	afsMagic  uint32 = 0x5346414f
	codaMagic uint32 = 0x73757245
	v9fsMagic uint32 = 0x01021997
	cephMagic uint32 = 0x00c36400
	ncpMagic  uint32 = 0x564c
)

// isNetworkFS reports whether path lives on a network filesystem.
// Unreadable paths count as local so they pass through untouched.
func isNetworkFS(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}

	// Statfs_t.Type is int32, int64 or uint32 depending on the architecture
	switch uint32(st.Type) {
	case nfsMagic, smbMagic, smb2Magic, cifsMagic, fuseMagic,
		afsMagic, codaMagic, v9fsMagic, cephMagic, ncpMagic:
		return true
	default:
		return false
	}
}
