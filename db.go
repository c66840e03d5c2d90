package halodb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/DalavanCloud/HaloDB/data"
	"github.com/DalavanCloud/HaloDB/index"
	"github.com/DalavanCloud/HaloDB/utils"
)

const fileLockName = "flock"

// DB 存储引擎实例
type DB struct {
	options    Options
	mu         *sync.RWMutex
	activeFile *data.DataFile            // 当前活跃数据文件, 可以用于写入
	olderFiles map[uint32]*data.DataFile // 已封存的数据文件, 以及 merge 期间正在写入的输出文件
	index      index.Indexer             // 内存索引
	stale      *staleAccountant          // 每个文件的失效字节统计
	nextFileId uint32                    // 下一个数据文件 id, 单调递增
	fileLock   *flock.Flock              // 文件锁
	bytesWrite uint                      // 当前累计写了多少个字节
	isInitial  bool                      // 是否是第一次初始化此数据目录
	isMerging  bool                      // 是否正在 merge
	closed     bool                      // 引擎是否已关闭
	mergeStop  chan struct{}             // merge 后台任务的停止信号
	mergeDone  sync.WaitGroup            // 等待 merge 后台任务退出
	logger     *zap.Logger
}

// Stat 存储引擎统计信息
type Stat struct {
	KeyNum          uint  // key 总数量
	DataFileNum     uint  // 数据文件的数量
	ReclaimableSize int64 // 可以进行回收的数据量, 以字节为单位
	DiskSize        int64 // 占用磁盘空间的大小
}

// Open 打开存储引擎实例, 并从磁盘上的 hint 文件重建索引
func Open(options Options) (*DB, error) {
	// 对用户传入的配置项进行校验
	if err := checkOptions(options); err != nil {
		return nil, err
	}

	var isInitial bool
	// 判断数据目录是否存在, 如果不存在的话, 则创建这个目录
	if _, err := os.Stat(options.DirPath); os.IsNotExist(err) {
		isInitial = true
		if err := os.MkdirAll(options.DirPath, os.ModePerm); err != nil {
			return nil, err
		}
	}

	// 判断目录是否正在被其他进程使用
	fileLock := flock.New(filepath.Join(options.DirPath, fileLockName))
	hold, err := fileLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !hold {
		return nil, ErrDatabaseIsUsing
	}

	entries, err := os.ReadDir(options.DirPath)
	if err != nil {
		return nil, err
	}
	// 目录中只有刚创建的锁文件时, 同样视为第一次初始化
	if len(entries) == 0 || (len(entries) == 1 && entries[0].Name() == fileLockName) {
		isInitial = true
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// 初始化 DB 实例结构体
	db := &DB{
		options:    options,
		mu:         new(sync.RWMutex),
		olderFiles: make(map[uint32]*data.DataFile),
		index:      index.NewIndexer(options.IndexType, options.DirPath, options.SyncWrites),
		stale:      newStaleAccountant(options.MergeThresholdPerFile),
		isInitial:  isInitial,
		fileLock:   fileLock,
		mergeStop:  make(chan struct{}),
		logger:     logger,
	}

	// 加载磁盘上已有的数据文件
	if err := db.loadDataFiles(); err != nil {
		return nil, err
	}

	// B+树索引持久化在磁盘上, 不需要重建
	if options.IndexType != BPlusTree {
		if err := db.loadIndex(); err != nil {
			return nil, err
		}
	}

	// 新建活跃文件, 之前的活跃文件在上面已经被当作封存文件加载
	if err := db.setActiveDataFile(); err != nil {
		return nil, err
	}

	// 启动 merge 后台任务
	if !db.options.MergeDisabled {
		db.startMergeScheduler()
	}

	db.logger.Info("opened halodb",
		zap.String("dir", options.DirPath),
		zap.Int64("maxFileSize", options.MaxFileSize),
		zap.Duration("mergeJobInterval", options.MergeJobInterval),
		zap.Float64("mergeThresholdPerFile", options.MergeThresholdPerFile),
		zap.Int("mergeThresholdFileNumber", options.MergeThresholdFileNumber),
		zap.Bool("mergeDisabled", options.MergeDisabled),
		zap.Bool("isInitial", isInitial),
	)
	return db, nil
}

// Close 关闭数据库: 停掉 merge 任务, 封存活跃文件并生成 hint, 释放全部文件
func (db *DB) Close() error {
	defer func() {
		if err := db.fileLock.Unlock(); err != nil {
			panic(fmt.Sprintf("failed to unlock the directory, %v", err))
		}
	}()

	// 先停掉 merge 后台任务, 等它退出后再动文件集合
	db.stopMergeScheduler()

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	// 关闭索引
	if err := db.index.Close(); err != nil {
		return err
	}

	// 封存当前活跃文件, 空文件直接删除
	if db.activeFile != nil {
		if db.activeFile.Size() == 0 {
			if err := db.activeFile.Delete(); err != nil {
				return err
			}
		} else {
			if err := db.activeFile.Seal(); err != nil {
				return err
			}
			if err := db.activeFile.Close(); err != nil {
				return err
			}
		}
		db.activeFile = nil
	}

	// 关闭封存的数据文件
	for _, file := range db.olderFiles {
		if err := file.Close(); err != nil {
			return err
		}
	}

	db.logger.Info("closed halodb", zap.String("dir", db.options.DirPath))
	return nil
}

// Sync 持久化当前活跃文件
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.activeFile == nil {
		return nil
	}
	return db.activeFile.Sync()
}

// Stat 返回数据库的相关统计信息
func (db *DB) Stat() *Stat {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var dataFiles = uint(len(db.olderFiles))
	if db.activeFile != nil {
		dataFiles += 1
	}

	dirSize, err := utils.DirSize(db.options.DirPath)
	if err != nil {
		panic(fmt.Sprintf("failed to get dir size: %v", err))
	}

	return &Stat{
		KeyNum:          uint(db.index.Size()),
		DataFileNum:     dataFiles,
		ReclaimableSize: db.stale.reclaimable(),
		DiskSize:        dirSize,
	}
}

// ListDataFileIds 返回当前全部数据文件的 id, 包含活跃文件
func (db *DB) ListDataFileIds() []uint32 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	fileIds := maps.Keys(db.olderFiles)
	if db.activeFile != nil {
		fileIds = append(fileIds, db.activeFile.FileId)
	}
	sort.Slice(fileIds, func(i, j int) bool { return fileIds[i] < fileIds[j] })
	return fileIds
}

// Put 写入 Key/Value 数据, key 不能为空且不能超过最大长度
func (db *DB) Put(key []byte, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	// 构造 LogRecord 结构体
	logRecord := &data.LogRecord{
		Key:   key,
		Value: value,
		Type:  data.LogRecordNormal,
	}

	// 追加写入到当前活跃数据文件当中
	pos, err := db.appendLogRecordWithLock(logRecord)
	if err != nil {
		return err
	}

	// 数据落盘之后才更新内存索引, 读到新位置的一定能读到数据
	if oldPos := db.index.Put(key, pos); oldPos != nil {
		db.chargeStale(oldPos)
	}

	return nil
}

// Delete 根据 key 删除对应的数据, 墓碑记录会被写入数据文件
func (db *DB) Delete(key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	// 先检查 key 是否存在, 如果不存在的话直接返回
	if pos := db.index.Get(key); pos == nil {
		return nil
	}

	// 构造 LogRecord, 标识其是被删除的
	logRecord := &data.LogRecord{
		Key:  key,
		Type: data.LogRecordDeleted,
	}
	pos, err := db.appendLogRecordWithLock(logRecord)
	if err != nil {
		return err
	}
	// 墓碑自身的字节落盘即失效, 记到它所在的文件上
	db.chargeStale(pos)

	// 从内存索引中将对应的 key 删除
	oldPos, ok := db.index.Delete(key)
	if !ok {
		return ErrIndexUpdateFailed
	}
	if oldPos != nil {
		db.chargeStale(oldPos)
	}
	return nil
}

// Get 根据 key 读取数据
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := checkKey(key); err != nil {
		return nil, err
	}
	if db.closed {
		return nil, ErrDatabaseClosed
	}

	// 从内存数据结构中取出 key 对应的索引信息
	logRecordPos := db.index.Get(key)
	// 如果 key 不在内存索引中, 说明 key 不存在
	if logRecordPos == nil {
		return nil, ErrKeyNotFound
	}

	// 从数据文件中获取 value
	return db.getValueByPosition(logRecordPos)
}

// 根据索引信息获取对应的 value, 调用方需持有读锁
func (db *DB) getValueByPosition(logRecordPos *data.LogRecordPos) ([]byte, error) {
	// 根据文件 id 找到对应的数据文件
	var dataFile *data.DataFile
	if db.activeFile != nil && db.activeFile.FileId == logRecordPos.Fid {
		dataFile = db.activeFile
	} else {
		dataFile = db.olderFiles[logRecordPos.Fid]
	}
	// 索引指向的文件不存在, 属于引擎内部状态不一致
	if dataFile == nil {
		return nil, ErrDataFileNotFound
	}

	logRecord, err := dataFile.ReadRecordAt(logRecordPos.Offset, logRecordPos.Size)
	if err != nil {
		return nil, err
	}

	// 索引不应该指向墓碑, 防御性处理
	if logRecord.Type == data.LogRecordDeleted {
		return nil, ErrKeyNotFound
	}

	return logRecord.Value, nil
}

func (db *DB) appendLogRecordWithLock(logRecord *data.LogRecord) (*data.LogRecordPos, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.appendLogRecord(logRecord)
}

// 追加写数据到活跃文件中
func (db *DB) appendLogRecord(logRecord *data.LogRecord) (*data.LogRecordPos, error) {
	if db.closed {
		return nil, ErrDatabaseClosed
	}

	// 写入数据编码
	encRecord, size := data.EncodeLogRecord(logRecord)
	// 如果写入的数据已经到达了活跃文件的阈值, 则封存活跃文件, 并打开新的文件
	// 一条记录永远不会跨越两个文件; 超过文件上限的大记录独占一个文件
	if off := db.activeFile.Size(); off > 0 && off+size > db.options.MaxFileSize {
		if err := db.rotateActiveFile(); err != nil {
			return nil, err
		}
	}

	writeOff, err := db.activeFile.WriteRecord(logRecord.Key, encRecord, logRecord.Type)
	if err != nil {
		return nil, err
	}

	db.bytesWrite += uint(size)
	// 根据用户配置决定是否持久化
	var needSync = db.options.SyncWrites
	if !needSync && db.options.BytesPerSync > 0 && db.bytesWrite >= db.options.BytesPerSync {
		needSync = true
	}
	if needSync {
		if err := db.activeFile.Sync(); err != nil {
			return nil, err
		}
		if db.bytesWrite > 0 {
			db.bytesWrite = 0
		}
	}

	// 构造内存索引信息
	pos := &data.LogRecordPos{Fid: db.activeFile.FileId, Offset: writeOff, Size: uint32(size)}
	return pos, nil
}

// 封存当前活跃文件并打开新的活跃文件
// 在访问此方法前必须持有互斥锁
func (db *DB) rotateActiveFile() error {
	if err := db.activeFile.Seal(); err != nil {
		return err
	}
	sealed := db.activeFile
	db.olderFiles[sealed.FileId] = sealed

	// 活跃期间累积的失效字节此时才有机会触发候选判定
	db.stale.noteSealed(sealed.FileId, sealed.Size())

	return db.setActiveDataFile()
}

// 设置当前活跃文件
// 在访问此方法前必须持有互斥锁
func (db *DB) setActiveDataFile() error {
	dataFile, err := data.OpenDataFile(db.options.DirPath, db.nextFileId)
	if err != nil {
		return err
	}
	db.nextFileId++
	db.activeFile = dataFile
	return nil
}

// 给已失效的记录位置累加失效字节
func (db *DB) chargeStale(pos *data.LogRecordPos) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var fileSize int64
	if db.activeFile != nil && db.activeFile.FileId == pos.Fid {
		// 活跃文件还在增长, 大小未定, 只累加
		fileSize = 0
	} else if file := db.olderFiles[pos.Fid]; file != nil {
		fileSize = file.Size()
	} else {
		// 文件已经被 merge 清理掉了
		return
	}
	db.stale.charge(pos.Fid, int64(pos.Size), fileSize)
}

// 从磁盘中加载数据文件, 磁盘上的文件一律按封存处理
func (db *DB) loadDataFiles() error {
	dirEntries, err := os.ReadDir(db.options.DirPath)
	if err != nil {
		return err
	}

	var fileIds []int
	// 遍历目录中的所有文件, 找到所有以 .data 结尾的文件
	for _, entry := range dirEntries {
		if strings.HasSuffix(entry.Name(), data.DataFileNameSuffix) {
			splitNames := strings.Split(entry.Name(), ".")
			fileId, err := strconv.Atoi(splitNames[0])
			// 数据目录有可能被损坏了
			if err != nil {
				return ErrDataDirectoryCorrupted
			}
			fileIds = append(fileIds, fileId)
		}
	}

	// 对文件 id 进行排序, 从小到大依次加载
	sort.Ints(fileIds)

	for _, fid := range fileIds {
		dataFile, err := data.OpenSealedDataFile(db.options.DirPath, uint32(fid))
		if err != nil {
			return err
		}
		db.olderFiles[uint32(fid)] = dataFile
	}

	// 文件 id 永远向前走, 不依赖时钟
	if n := len(fileIds); n > 0 {
		db.nextFileId = uint32(fileIds[n-1]) + 1
	}
	return nil
}

// 重建内存索引: 优先从 hint 文件加载, 没有 hint 的数据文件逐条扫描
// 按文件 id 从小到大处理, 保证应用顺序与写入顺序一致
func (db *DB) loadIndex() error {
	if len(db.olderFiles) == 0 {
		return nil
	}

	fileIds := maps.Keys(db.olderFiles)
	sort.Slice(fileIds, func(i, j int) bool { return fileIds[i] < fileIds[j] })

	updateIndex := func(fileId uint32, entry *data.HintEntry) {
		pos := &data.LogRecordPos{Fid: fileId, Offset: entry.RecordOffset, Size: entry.RecordSize}
		existing := db.index.Get(entry.Key)

		if entry.Tombstone {
			// 墓碑自身的字节直接记为失效
			db.chargeStaleLoaded(pos)
			if existing != nil {
				db.index.Delete(entry.Key)
			}
		} else {
			db.index.Put(entry.Key, pos)
		}
		if existing != nil {
			db.chargeStaleLoaded(existing)
		}
	}

	for _, fileId := range fileIds {
		hintName := data.GetHintFileName(db.options.DirPath, fileId)
		if _, err := os.Stat(hintName); err == nil {
			if err := db.loadIndexFromHintFile(fileId, updateIndex); err != nil {
				return err
			}
			continue
		}
		// 没有配对的 hint 文件, 多半是上次崩溃时的活跃文件, 扫描记录本身
		if err := db.loadIndexFromDataFile(fileId, updateIndex); err != nil {
			return err
		}
	}
	return nil
}

// 从 hint 文件加载索引
func (db *DB) loadIndexFromHintFile(fileId uint32, updateIndex func(uint32, *data.HintEntry)) error {
	it, err := data.NewHintFileIterator(db.options.DirPath, fileId)
	if err != nil {
		return err
	}
	defer func() {
		_ = it.Close()
	}()

	for {
		entry, err := it.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		updateIndex(fileId, entry)
	}
	return nil
}

// 逐条扫描数据文件, 把记录流当作隐式的 hint 流
func (db *DB) loadIndexFromDataFile(fileId uint32, updateIndex func(uint32, *data.HintEntry)) error {
	dataFile := db.olderFiles[fileId]

	var offset int64 = 0
	for {
		logRecord, size, err := dataFile.ReadLogRecord(offset)
		if err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				// 尾部写了一半的记录, 当作垃圾丢弃
				break
			}
			// 文件中间的 crc 错误是真正的数据损坏
			return err
		}

		updateIndex(fileId, &data.HintEntry{
			Key:          logRecord.Key,
			RecordOffset: offset,
			RecordSize:   uint32(size),
			Tombstone:    logRecord.Type == data.LogRecordDeleted,
		})
		offset += size
	}
	return nil
}

// 恢复期间的失效字节统计, 文件大小直接取封存文件的大小
func (db *DB) chargeStaleLoaded(pos *data.LogRecordPos) {
	if file := db.olderFiles[pos.Fid]; file != nil {
		db.stale.charge(pos.Fid, int64(pos.Size), file.Size())
	}
}

func checkKey(key []byte) error {
	if len(key) == 0 {
		return ErrKeyIsEmpty
	}
	if len(key) > data.MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

func checkOptions(options Options) error {
	if options.DirPath == "" {
		return errors.New("database dir path is empty")
	}
	if options.MaxFileSize <= 0 {
		return errors.New("database data file size must be greater than 0")
	}
	if options.MergeThresholdPerFile < 0 || options.MergeThresholdPerFile > 1 {
		return errors.New("invalid merge ratio, must between 0 and 1")
	}
	if !options.MergeDisabled {
		if options.MergeJobInterval <= 0 {
			return errors.New("merge job interval must be greater than 0")
		}
		if options.MergeThresholdFileNumber <= 0 {
			return errors.New("merge threshold file number must be greater than 0")
		}
	}
	return nil
}
