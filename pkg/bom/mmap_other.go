//go:build !unix

package bom

func mmapFile(path string) ([]byte, func() error, error) {
	return nil, nil, errMmapUnsupported
}
