// Package storage stages uploaded video files on local disk until the CDN
// upload completes.
package storage

import (
	"io"
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

type Storage interface {
	SaveFile(src io.Reader, info FileInfo) (string, error)
	OpenFile(name string) (io.ReadSeekCloser, error)
	ReadFile(name string) ([]byte, error)
	DeleteFile(name string) error
	// FilePath resolves a stored name to an absolute path for tools that
	// read the file directly, such as the frame sampler.
	FilePath(name string) string
}
