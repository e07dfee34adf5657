package storage

import (
	"errors"
	"io"
)

var ErrInvalidPath = errors.New("invalid path")

type FileInfo struct {
	// Name is the base name to store under. A random name is used when empty.
	Name        string
	Ext         string
	ContentType string
}

// Storage keeps round recordings as flat files.
type Storage interface {
	SaveFile(r io.Reader, info FileInfo) (string, error)
	OpenFile(path string) (io.ReadSeekCloser, error)
	DeleteFile(path string) error
}
