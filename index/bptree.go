package index

import (
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/DalavanCloud/HaloDB/data"
)

const bptreeIndexFileName = "bptree-index"

var indexBucketName = []byte("halodb-index")

// BPTreeIndex B+ 树索引, 索引数据落在磁盘文件上, 不占用 Go 堆内存
// 主要封装了 go.etcd.io/bbolt
type BPTreeIndex struct {
	tree *bbolt.DB
}

// NewBPlusTree 初始化 B+ 树索引
func NewBPlusTree(dirPath string, syncWrites bool) *BPTreeIndex {
	opts := bbolt.DefaultOptions
	opts.NoSync = !syncWrites
	bptree, err := bbolt.Open(filepath.Join(dirPath, bptreeIndexFileName), 0644, opts)
	if err != nil {
		panic("failed to open bptree")
	}

	// 创建对应的 bucket
	if err := bptree.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucketName)
		return err
	}); err != nil {
		panic("failed to create bucket in bptree")
	}

	return &BPTreeIndex{tree: bptree}
}

func (bpt *BPTreeIndex) Put(key []byte, pos *data.LogRecordPos) *data.LogRecordPos {
	var oldValue []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		oldValue = bucket.Get(key)
		return bucket.Put(key, data.EncodeLogRecordPos(pos))
	}); err != nil {
		panic("failed to put value in bptree")
	}
	if len(oldValue) == 0 {
		return nil
	}
	return data.DecodeLogRecordPos(oldValue)
}

func (bpt *BPTreeIndex) Get(key []byte) *data.LogRecordPos {
	var pos *data.LogRecordPos
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		value := bucket.Get(key)
		if len(value) != 0 {
			pos = data.DecodeLogRecordPos(value)
		}
		return nil
	}); err != nil {
		panic("failed to get value in bptree")
	}
	return pos
}

func (bpt *BPTreeIndex) Delete(key []byte) (*data.LogRecordPos, bool) {
	var oldValue []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		if oldValue = bucket.Get(key); len(oldValue) != 0 {
			return bucket.Delete(key)
		}
		return nil
	}); err != nil {
		panic("failed to delete value in bptree")
	}
	if len(oldValue) == 0 {
		return nil, false
	}
	return data.DecodeLogRecordPos(oldValue), true
}

// Replace 在同一个写事务中完成比较和替换
func (bpt *BPTreeIndex) Replace(key []byte, expected, updated *data.LogRecordPos) bool {
	var replaced bool
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		value := bucket.Get(key)
		if len(value) == 0 || !data.DecodeLogRecordPos(value).Same(expected) {
			return nil
		}
		replaced = true
		return bucket.Put(key, data.EncodeLogRecordPos(updated))
	}); err != nil {
		panic("failed to replace value in bptree")
	}
	return replaced
}

func (bpt *BPTreeIndex) Contains(key []byte) bool {
	var found bool
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		found = len(bucket.Get(key)) != 0
		return nil
	}); err != nil {
		panic("failed to get value in bptree")
	}
	return found
}

func (bpt *BPTreeIndex) Size() int {
	var size int
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		size = bucket.Stats().KeyN
		return nil
	}); err != nil {
		panic("failed to get size in bptree")
	}
	return size
}

func (bpt *BPTreeIndex) Close() error {
	return bpt.tree.Close()
}
