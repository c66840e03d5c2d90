package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DalavanCloud/HaloDB/data"
)

func TestBPlusTree_Put(t *testing.T) {
	path := filepath.Join(os.TempDir(), "halodb-bptree-put")
	_ = os.MkdirAll(path, os.ModePerm)
	defer func() {
		_ = os.RemoveAll(path)
	}()
	tree := NewBPlusTree(path, false)
	defer func() {
		_ = tree.Close()
	}()

	res1 := tree.Put([]byte("aac"), &data.LogRecordPos{Fid: 123, Offset: 999, Size: 10})
	assert.Nil(t, res1)

	res2 := tree.Put([]byte("aac"), &data.LogRecordPos{Fid: 124, Offset: 0, Size: 10})
	assert.NotNil(t, res2)
	assert.Equal(t, uint32(123), res2.Fid)
}

func TestBPlusTree_Get(t *testing.T) {
	path := filepath.Join(os.TempDir(), "halodb-bptree-get")
	_ = os.MkdirAll(path, os.ModePerm)
	defer func() {
		_ = os.RemoveAll(path)
	}()
	tree := NewBPlusTree(path, false)
	defer func() {
		_ = tree.Close()
	}()

	assert.Nil(t, tree.Get([]byte("not-exist")))

	tree.Put([]byte("aac"), &data.LogRecordPos{Fid: 123, Offset: 999, Size: 10})
	pos := tree.Get([]byte("aac"))
	assert.NotNil(t, pos)
	assert.Equal(t, int64(999), pos.Offset)
}

func TestBPlusTree_Delete(t *testing.T) {
	path := filepath.Join(os.TempDir(), "halodb-bptree-delete")
	_ = os.MkdirAll(path, os.ModePerm)
	defer func() {
		_ = os.RemoveAll(path)
	}()
	tree := NewBPlusTree(path, false)
	defer func() {
		_ = tree.Close()
	}()

	_, ok := tree.Delete([]byte("not-exist"))
	assert.False(t, ok)

	tree.Put([]byte("aac"), &data.LogRecordPos{Fid: 123, Offset: 999, Size: 10})
	old, ok := tree.Delete([]byte("aac"))
	assert.True(t, ok)
	assert.Equal(t, uint32(123), old.Fid)
	assert.Nil(t, tree.Get([]byte("aac")))
}

func TestBPlusTree_Replace(t *testing.T) {
	path := filepath.Join(os.TempDir(), "halodb-bptree-replace")
	_ = os.MkdirAll(path, os.ModePerm)
	defer func() {
		_ = os.RemoveAll(path)
	}()
	tree := NewBPlusTree(path, false)
	defer func() {
		_ = tree.Close()
	}()

	oldPos := &data.LogRecordPos{Fid: 1, Offset: 10, Size: 40}
	newPos := &data.LogRecordPos{Fid: 5, Offset: 0, Size: 40}

	assert.False(t, tree.Replace([]byte("aac"), oldPos, newPos))

	tree.Put([]byte("aac"), oldPos)
	assert.True(t, tree.Replace([]byte("aac"), oldPos, newPos))
	assert.Equal(t, uint32(5), tree.Get([]byte("aac")).Fid)

	assert.False(t, tree.Replace([]byte("aac"), oldPos, &data.LogRecordPos{Fid: 6, Offset: 0, Size: 40}))
}

func TestBPlusTree_Size(t *testing.T) {
	path := filepath.Join(os.TempDir(), "halodb-bptree-size")
	_ = os.MkdirAll(path, os.ModePerm)
	defer func() {
		_ = os.RemoveAll(path)
	}()
	tree := NewBPlusTree(path, false)
	defer func() {
		_ = tree.Close()
	}()

	assert.Equal(t, 0, tree.Size())
	tree.Put([]byte("aac"), &data.LogRecordPos{Fid: 1, Offset: 0, Size: 10})
	tree.Put([]byte("abc"), &data.LogRecordPos{Fid: 1, Offset: 10, Size: 10})
	assert.Equal(t, 2, tree.Size())
	assert.True(t, tree.Contains([]byte("aac")))
}
