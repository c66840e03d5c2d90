package index

import (
	"bytes"

	"github.com/google/btree"

	"github.com/DalavanCloud/HaloDB/data"
)

// Indexer 抽象索引接口, 保存 key 到磁盘位置的映射
// 实现必须保证自身的并发安全
type Indexer interface {
	// Put 向索引中存入 key 的位置信息, 原子地返回旧的位置信息
	Put(key []byte, pos *data.LogRecordPos) *data.LogRecordPos

	// Get 根据 key 取出对应索引位置信息
	Get(key []byte) *data.LogRecordPos

	// Delete 根据 key 删除对应索引位置信息, 原子地返回旧的位置信息
	Delete(key []byte) (*data.LogRecordPos, bool)

	// Replace 仅当 key 当前的位置信息与 expected 指向同一条记录时替换为 updated
	Replace(key []byte, expected, updated *data.LogRecordPos) bool

	// Contains 判断 key 是否存在于索引中
	Contains(key []byte) bool

	// Size 索引中的 key 数量
	Size() int

	// Close 关闭索引
	Close() error
}

type IndexType = int8

const (
	// Btree 索引
	Btree IndexType = iota + 1

	// ART Adaptive Radix Tree 自适应基数树索引
	ART

	// BPlusTree B+ 树索引, 将索引存储到磁盘上
	BPlusTree
)

// NewIndexer 根据类型初始化索引
func NewIndexer(typ IndexType, dirPath string, syncWrites bool) Indexer {
	switch typ {
	case Btree:
		return NewBTree()
	case ART:
		return NewART()
	case BPlusTree:
		return NewBPlusTree(dirPath, syncWrites)
	default:
		panic("unsupported index type")
	}
}

type Item struct {
	key []byte
	pos *data.LogRecordPos
}

// Less 自定义 btree 中 key 的比较方法(排序规则)
func (ai *Item) Less(bi btree.Item) bool {
	return bytes.Compare(ai.key, bi.(*Item).key) == -1
}
