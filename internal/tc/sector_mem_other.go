//go:build !unix

package tc

func mapSectorMemory(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapSectorMemory(mem []byte) error {
	return nil
}
