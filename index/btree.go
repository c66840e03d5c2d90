package index

import (
	"sync"

	"github.com/google/btree"

	"github.com/DalavanCloud/HaloDB/data"
)

// BTree 索引, 主要封装了 google 的 btree 库
// https://github.com/google/btree
type BTree struct {
	tree *btree.BTree
	lock *sync.RWMutex
}

// NewBTree 新建 BTree 索引结构
func NewBTree() *BTree {
	return &BTree{
		tree: btree.New(32),
		lock: new(sync.RWMutex),
	}
}

func (bt *BTree) Put(key []byte, pos *data.LogRecordPos) *data.LogRecordPos {
	it := &Item{key: key, pos: pos}
	bt.lock.Lock()
	oldItem := bt.tree.ReplaceOrInsert(it)
	bt.lock.Unlock()
	if oldItem == nil {
		return nil
	}
	return oldItem.(*Item).pos
}

func (bt *BTree) Get(key []byte) *data.LogRecordPos {
	it := &Item{key: key}
	bt.lock.RLock()
	btreeItem := bt.tree.Get(it)
	bt.lock.RUnlock()
	if btreeItem == nil {
		return nil
	}
	return btreeItem.(*Item).pos
}

func (bt *BTree) Delete(key []byte) (*data.LogRecordPos, bool) {
	it := &Item{key: key}
	bt.lock.Lock()
	oldItem := bt.tree.Delete(it)
	bt.lock.Unlock()
	if oldItem == nil {
		return nil, false
	}
	return oldItem.(*Item).pos, true
}

func (bt *BTree) Replace(key []byte, expected, updated *data.LogRecordPos) bool {
	it := &Item{key: key}
	bt.lock.Lock()
	defer bt.lock.Unlock()

	btreeItem := bt.tree.Get(it)
	if btreeItem == nil || !btreeItem.(*Item).pos.Same(expected) {
		return false
	}
	bt.tree.ReplaceOrInsert(&Item{key: key, pos: updated})
	return true
}

func (bt *BTree) Contains(key []byte) bool {
	it := &Item{key: key}
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return bt.tree.Has(it)
}

func (bt *BTree) Size() int {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return bt.tree.Len()
}

func (bt *BTree) Close() error {
	return nil
}
