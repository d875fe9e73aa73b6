package transport

import (
	"bytes"
	"io"
	"os"
)

func newBytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

func writeFile(path string, data []byte) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.Write(data)
	return int64(n), err
}
