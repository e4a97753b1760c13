package artifact

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FS：本地文件系统存储，键映射为根目录下的相对路径
type FS struct {
	root string
}

// NewFS：以 root 为根目录创建存储，目录不存在时创建
func NewFS(root string) (*FS, error) {
	if root == "" {
		root = "./output"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FS{root: root}, nil
}

func (s *FS) Driver() string { return "fs" }

// Path：键对应的本地路径
func (s *FS) Path(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

// Put：写入同目录临时文件、落盘后重命名覆盖目标，保证读者不会看到半写文件
func (s *FS) Put(_ context.Context, key string, data []byte) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FS) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *FS) Stat(_ context.Context, key string) (Info, error) {
	path, err := s.Path(key)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, err
	}
	return Info{Key: key, Size: fi.Size(), LastModified: fi.ModTime().UTC()}, nil
}

func (s *FS) Delete(_ context.Context, key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
