package bench

import "os"

type tempDir struct {
	path string
}

func newTempDir() (*tempDir, error) {
	path, err := os.MkdirTemp("", "mercurybench-*")
	if err != nil {
		return nil, err
	}
	return &tempDir{path: path}, nil
}

func (t *tempDir) remove() {
	_ = os.RemoveAll(t.path)
}
