//go:build unix

package tc

import "golang.org/x/sys/unix"

// mapSectorMemory reserves anonymous private memory for one sector.
func mapSectorMemory(size int) ([]byte, error) {
	return unix.Mmap(
		-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
}

func unmapSectorMemory(mem []byte) error {
	return unix.Munmap(mem)
}
