package halodb

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

type Options struct {
	// 数据库数据目录
	DirPath string

	// 数据文件的大小, 写满后封存并滚动到新文件
	MaxFileSize int64

	// 是否每次写入持久化
	SyncWrites bool

	// 累计写到多少字节后进行一次持久化, 0 表示不启用
	BytesPerSync uint

	// 索引类型
	IndexType IndexType

	// merge 后台任务的执行间隔
	MergeJobInterval time.Duration

	// 文件中无效数据达到总大小的多少比例后成为 merge 候选
	MergeThresholdPerFile float64

	// 候选文件数达到多少后才启动一轮 merge
	MergeThresholdFileNumber int

	// 是否关闭后台 merge
	MergeDisabled bool

	// 日志组件, 为空时不输出日志
	Logger *zap.Logger
}

type IndexType = int8

const (
	// BTree 索引
	BTree IndexType = iota + 1

	// ART Adaptive Radix Tree 自适应基数树索引
	ART

	// BPlusTree B+ 树索引, 将索引存储到磁盘上
	BPlusTree
)

var DefaultOptions = Options{
	DirPath:                  filepath.Join(os.TempDir(), "halodb"),
	MaxFileSize:              256 * 1024 * 1024,
	SyncWrites:               false,
	BytesPerSync:             0,
	IndexType:                BTree,
	MergeJobInterval:         time.Minute,
	MergeThresholdPerFile:    0.75,
	MergeThresholdFileNumber: 4,
	MergeDisabled:            false,
}
