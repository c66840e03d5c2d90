package data

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/DalavanCloud/HaloDB/fio"
)

const DataFileNameSuffix = ".data"

var ErrDataFileSealed = errors.New("the data file is sealed and no longer writable")

// DataFile 数据文件抽象, 活跃文件追加写入, 封存文件只读
// 写偏移原子发布, 读取方不持锁也只会看到完整落盘的记录范围
type DataFile struct {
	FileId    uint32        // 文件 id
	IoManager fio.IOManager // 数据读写接口

	writeOff int64 // 已写入的字节数, 封存文件中等于文件大小
	dirPath  string
	sealed   bool
	entries  []*HintEntry // 活跃期间积累的索引条目, 封存时写入 hint 文件
}

// GetDataFileName 获取数据文件的完整路径
func GetDataFileName(dirPath string, fileId uint32) string {
	return filepath.Join(dirPath, fmt.Sprintf("%09d%s", fileId, DataFileNameSuffix))
}

// OpenDataFile 打开新的活跃数据文件
func OpenDataFile(dirPath string, fileId uint32) (*DataFile, error) {
	ioManager, err := fio.NewIOManager(GetDataFileName(dirPath, fileId))
	if err != nil {
		return nil, err
	}
	return &DataFile{
		FileId:    fileId,
		IoManager: ioManager,
		dirPath:   dirPath,
	}, nil
}

// OpenSealedDataFile 以只读语义打开已封存的数据文件
func OpenSealedDataFile(dirPath string, fileId uint32) (*DataFile, error) {
	ioManager, err := fio.NewIOManager(GetDataFileName(dirPath, fileId))
	if err != nil {
		return nil, err
	}
	size, err := ioManager.Size()
	if err != nil {
		_ = ioManager.Close()
		return nil, err
	}
	return &DataFile{
		FileId:    fileId,
		writeOff:  size,
		IoManager: ioManager,
		dirPath:   dirPath,
		sealed:    true,
	}, nil
}

// Sealed 文件是否已封存
func (df *DataFile) Sealed() bool {
	return df.sealed
}

// Size 文件的逻辑大小, 即已完整写入的字节数
// 原子读取, 可以在没有外部锁的情况下调用
func (df *DataFile) Size() int64 {
	return atomic.LoadInt64(&df.writeOff)
}

// WriteRecord 追加一条已编码的记录, 返回其起始偏移
// 只有单个写入方会调用; 新的写偏移在数据落盘之后才原子发布,
// 并发的读取方不会看到写了一半的记录
// 写入失败时回退物理文件, 写偏移保持在最后一条完整记录之后
func (df *DataFile) WriteRecord(key []byte, encRecord []byte, recordType LogRecordType) (int64, error) {
	if df.sealed {
		return 0, ErrDataFileSealed
	}

	offset := atomic.LoadInt64(&df.writeOff)
	if _, err := df.IoManager.Write(encRecord); err != nil {
		_ = df.IoManager.Truncate(offset)
		return 0, err
	}
	atomic.StoreInt64(&df.writeOff, offset+int64(len(encRecord)))

	df.entries = append(df.entries, &HintEntry{
		Key:          key,
		RecordOffset: offset,
		RecordSize:   uint32(len(encRecord)),
		Tombstone:    recordType == LogRecordDeleted,
	})
	return offset, nil
}

// ReadLogRecord 从给定偏移读取一条记录, 返回记录及其磁盘大小
// 到达文件末尾或遇到被截断的记录时返回 io.EOF
func (df *DataFile) ReadLogRecord(offset int64) (*LogRecord, int64, error) {
	size := df.Size()
	if offset >= size {
		return nil, 0, io.EOF
	}
	if offset+HeaderSize > size {
		// 不足一个头部, 属于写了一半的记录
		return nil, 0, io.EOF
	}

	headerBuf, err := df.readNBytes(HeaderSize, offset)
	if err != nil {
		return nil, 0, err
	}
	header, err := DecodeLogRecordHeader(headerBuf)
	if err != nil {
		return nil, 0, err
	}
	if header.IsZero() {
		return nil, 0, io.EOF
	}

	recordSize := EncodedRecordSize(int(header.keySize), int(header.valueSize))
	if offset+recordSize > size {
		// 记录体超出文件末尾, 同样是写了一半的记录
		return nil, 0, io.EOF
	}

	buf, err := df.readNBytes(recordSize, offset)
	if err != nil {
		return nil, 0, err
	}
	record, err := DecodeLogRecord(buf)
	if err != nil {
		return nil, 0, err
	}
	return record, recordSize, nil
}

// ReadRecordAt 按位置索引精确读取一条记录并校验 crc
// 以原子发布的写偏移为界, 与追加写并发执行也是安全的
func (df *DataFile) ReadRecordAt(offset int64, size uint32) (*LogRecord, error) {
	if offset+int64(size) > df.Size() {
		return nil, ErrTruncatedValue
	}
	buf, err := df.readNBytes(int64(size), offset)
	if err != nil {
		return nil, err
	}
	return DecodeLogRecord(buf)
}

func (df *DataFile) readNBytes(n int64, offset int64) ([]byte, error) {
	b := make([]byte, n)
	if _, err := df.IoManager.Read(b, offset); err != nil {
		return nil, err
	}
	return b, nil
}

func (df *DataFile) Sync() error {
	return df.IoManager.Sync()
}

// Seal 封存文件: 截断到最后一条完整记录, 持久化并生成配对的 hint 文件
func (df *DataFile) Seal() error {
	if df.sealed {
		return nil
	}
	if err := df.IoManager.Truncate(df.Size()); err != nil {
		return err
	}
	if err := df.IoManager.Sync(); err != nil {
		return err
	}

	hintFile, err := OpenHintFile(df.dirPath, df.FileId)
	if err != nil {
		return err
	}
	for _, entry := range df.entries {
		if err := hintFile.WriteHintEntry(entry); err != nil {
			_ = hintFile.Close()
			return err
		}
	}
	if err := hintFile.Sync(); err != nil {
		_ = hintFile.Close()
		return err
	}
	if err := hintFile.Close(); err != nil {
		return err
	}

	df.entries = nil
	df.sealed = true
	return nil
}

func (df *DataFile) Close() error {
	return df.IoManager.Close()
}

// Delete 关闭并删除数据文件以及配对的 hint 文件
func (df *DataFile) Delete() error {
	if err := df.IoManager.Close(); err != nil {
		return err
	}
	if err := os.Remove(GetDataFileName(df.dirPath, df.FileId)); err != nil {
		return err
	}
	hintName := GetHintFileName(df.dirPath, df.FileId)
	if _, err := os.Stat(hintName); err == nil {
		return os.Remove(hintName)
	}
	return nil
}
