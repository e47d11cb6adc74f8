//go:build !unix

package symbolizer

import "os"

type mappedFile struct {
	path string
	data []byte
}

func openMapped(path string) (*mappedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &mappedFile{path: path, data: data}, nil
}

func (m *mappedFile) Close() error {
	m.data = nil
	return nil
}
