package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// sidecarSuffixes are the files SQLite keeps next to a database.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// FileSystem is the set of file operations a mutation cycle performs.
type FileSystem interface {
	// Copy duplicates src to dst, replacing dst.
	Copy(src, dst string) error
	// Move renames src to dst.
	Move(src, dst string) error
	// Remove deletes path. A missing path is not an error.
	Remove(path string) error
	Exists(path string) (bool, error)
	ReadDir(dir string) ([]fs.DirEntry, error)
}

// OSFileSystem implements FileSystem on the local disk.
type OSFileSystem struct{}

// Copy writes src into dst, syncs it, and carries over the mode and
// modification time.
func (OSFileSystem) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// Move renames src to dst, falling back to copy and remove when the two are
// on different devices. A failed fallback leaves no partial dst behind.
func (f OSFileSystem) Move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}

	if cerr := f.Copy(src, dst); cerr != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("rename: %w; copy fallback: %v", err, cerr)
	}
	return f.Remove(src)
}

func (OSFileSystem) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (OSFileSystem) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (OSFileSystem) ReadDir(dir string) ([]fs.DirEntry, error) {
	return os.ReadDir(dir)
}

// copyWithSidecars copies src and its -wal file, if any, to dst.
func copyWithSidecars(fsys FileSystem, src, dst string) error {
	if err := fsys.Copy(src, dst); err != nil {
		return err
	}
	ok, err := fsys.Exists(src + "-wal")
	if err != nil {
		return err
	}
	if ok {
		if err := fsys.Copy(src+"-wal", dst+"-wal"); err != nil {
			return fmt.Errorf("copy write-ahead log: %w", err)
		}
	}
	return nil
}

// removeWithSidecars removes the SQLite sidecars of path, then path itself.
// path is left in place if any sidecar cannot be removed.
func removeWithSidecars(fsys FileSystem, path string) error {
	var errs []error
	for _, suffix := range sidecarSuffixes {
		if err := fsys.Remove(path + suffix); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return fsys.Remove(path)
}
