package fio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func destroyFile(name string) {
	_ = os.RemoveAll(name)
}

func TestNewFileIOManager(t *testing.T) {
	path := filepath.Join(os.TempDir(), "halodb-fio-a.data")
	fio, err := NewFileIOManager(path)
	defer destroyFile(path)

	assert.Nil(t, err)
	assert.NotNil(t, fio)
	assert.Nil(t, fio.Close())
}

func TestFileIO_Write(t *testing.T) {
	path := filepath.Join(os.TempDir(), "halodb-fio-b.data")
	fio, err := NewFileIOManager(path)
	defer destroyFile(path)
	assert.Nil(t, err)

	n, err := fio.Write([]byte(""))
	assert.Equal(t, 0, n)
	assert.Nil(t, err)

	n, err = fio.Write([]byte("halodb"))
	assert.Equal(t, 6, n)
	assert.Nil(t, err)

	assert.Nil(t, fio.Close())
}

func TestFileIO_Read(t *testing.T) {
	path := filepath.Join(os.TempDir(), "halodb-fio-c.data")
	fio, err := NewFileIOManager(path)
	defer destroyFile(path)
	assert.Nil(t, err)

	_, err = fio.Write([]byte("key-a"))
	assert.Nil(t, err)
	_, err = fio.Write([]byte("key-b"))
	assert.Nil(t, err)

	b1 := make([]byte, 5)
	n, err := fio.Read(b1, 0)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("key-a"), b1)

	b2 := make([]byte, 5)
	n, err = fio.Read(b2, 5)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("key-b"), b2)

	assert.Nil(t, fio.Close())
}

func TestFileIO_SizeAndTruncate(t *testing.T) {
	path := filepath.Join(os.TempDir(), "halodb-fio-d.data")
	fio, err := NewFileIOManager(path)
	defer destroyFile(path)
	assert.Nil(t, err)

	_, err = fio.Write([]byte("0123456789"))
	assert.Nil(t, err)

	size, err := fio.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(10), size)

	assert.Nil(t, fio.Truncate(4))
	size, err = fio.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(4), size)

	assert.Nil(t, fio.Sync())
	assert.Nil(t, fio.Close())
}
