package remote

import (
	"bytes"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

// fakeFS is an in-memory FS for tests. Paths are absolute, slash separated.
type fakeFS struct {
	files  map[string]*fakeFile
	closed bool
}

type fakeFile struct {
	data    []byte
	modTime time.Time
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: make(map[string]*fakeFile)}
}

func (f *fakeFS) put(p string, data []byte, modTime time.Time) {
	f.files[p] = &fakeFile{data: data, modTime: modTime}
}

func (f *fakeFS) ReadDir(dir string) ([]os.FileInfo, error) {
	seen := make(map[string]os.FileInfo)
	found := false
	for p, file := range f.files {
		if !strings.HasPrefix(p, dir+"/") {
			continue
		}
		found = true
		rest := strings.TrimPrefix(p, dir+"/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name := rest[:i]
			seen[name] = fakeInfo{name: name, dir: true}
		} else {
			seen[rest] = fakeInfo{name: rest, size: int64(len(file.data)), modTime: file.modTime}
		}
	}
	if !found {
		return nil, os.ErrNotExist
	}
	var out []os.FileInfo
	for _, fi := range seen {
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (f *fakeFS) Open(p string) (File, error) {
	file, ok := f.files[path.Clean(p)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &fakeReader{Reader: bytes.NewReader(file.data)}, nil
}

func (f *fakeFS) Stat(p string) (os.FileInfo, error) {
	file, ok := f.files[path.Clean(p)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return fakeInfo{name: path.Base(p), size: int64(len(file.data)), modTime: file.modTime}, nil
}

func (f *fakeFS) Close() error {
	f.closed = true
	return nil
}

type fakeReader struct {
	*bytes.Reader
}

func (r *fakeReader) Close() error { return nil }

var _ io.Seeker = (*fakeReader)(nil)

type fakeInfo struct {
	name    string
	size    int64
	modTime time.Time
	dir     bool
}

func (i fakeInfo) Name() string       { return i.name }
func (i fakeInfo) Size() int64        { return i.size }
func (i fakeInfo) Mode() os.FileMode  { return 0o644 }
func (i fakeInfo) ModTime() time.Time { return i.modTime }
func (i fakeInfo) IsDir() bool        { return i.dir }
func (i fakeInfo) Sys() interface{}   { return nil }
