//go:build !(darwin || linux)

package artifact

import (
	"errors"
	"os"
)

var errNoMmap = errors.New("mmap not supported on this platform")

type mmapReader struct{ *os.File }

func mmapFile(f *os.File, size int64) (*mmapReader, error) { return nil, errNoMmap }
