package data

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHintFile_WriteAndIterate(t *testing.T) {
	dir, _ := os.MkdirTemp("", "halodb-hintfile")
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	hf, err := OpenHintFile(dir, 7)
	assert.Nil(t, err)

	entries := []*HintEntry{
		{Key: []byte("k1"), RecordOffset: 0, RecordSize: 40},
		{Key: []byte("key-2"), RecordOffset: 40, RecordSize: 55, Tombstone: true},
		{Key: []byte("k3"), RecordOffset: 95, RecordSize: 40},
	}
	for _, entry := range entries {
		assert.Nil(t, hf.WriteHintEntry(entry))
	}
	assert.Nil(t, hf.Sync())
	assert.Nil(t, hf.Close())

	it, err := NewHintFileIterator(dir, 7)
	assert.Nil(t, err)
	for i := 0; ; i++ {
		entry, err := it.Next()
		if err == io.EOF {
			assert.Equal(t, len(entries), i)
			break
		}
		assert.Nil(t, err)
		assert.Equal(t, entries[i].Key, entry.Key)
		assert.Equal(t, entries[i].RecordOffset, entry.RecordOffset)
		assert.Equal(t, entries[i].RecordSize, entry.RecordSize)
		assert.Equal(t, entries[i].Tombstone, entry.Tombstone)
	}
	assert.Nil(t, it.Close())
}

func TestHintFileIterator_TruncatedTail(t *testing.T) {
	dir, _ := os.MkdirTemp("", "halodb-hintfile")
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	hf, err := OpenHintFile(dir, 8)
	assert.Nil(t, err)
	assert.Nil(t, hf.WriteHintEntry(&HintEntry{Key: []byte("k1"), RecordOffset: 0, RecordSize: 40}))
	assert.Nil(t, hf.WriteHintEntry(&HintEntry{Key: []byte("k2"), RecordOffset: 40, RecordSize: 40}))
	assert.Nil(t, hf.Close())

	// 砍掉最后一条条目的一部分
	fi, err := os.Stat(GetHintFileName(dir, 8))
	assert.Nil(t, err)
	assert.Nil(t, os.Truncate(GetHintFileName(dir, 8), fi.Size()-3))

	it, err := NewHintFileIterator(dir, 8)
	assert.Nil(t, err)

	entry, err := it.Next()
	assert.Nil(t, err)
	assert.Equal(t, []byte("k1"), entry.Key)

	// 被截断的尾部条目直接丢弃
	_, err = it.Next()
	assert.Equal(t, io.EOF, err)
	assert.Nil(t, it.Close())
}
