package data

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"

	"github.com/DalavanCloud/HaloDB/fio"
)

const HintFileNameSuffix = ".hint"

// 条目头部: keySize(1) + recordSize(4) + recordOffset(8) + tombstone(1)
const hintEntryHeaderSize = 14

// HintEntry 封存数据文件的索引条目, 与数据文件中的记录一一对应
type HintEntry struct {
	Key          []byte
	RecordOffset int64
	RecordSize   uint32
	Tombstone    bool
}

// HintFile 数据文件封存时生成的索引文件, 一次写入多次读取
type HintFile struct {
	fileId    uint32
	ioManager fio.IOManager
}

// GetHintFileName 获取 hint 文件的完整路径
func GetHintFileName(dirPath string, fileId uint32) string {
	return filepath.Join(dirPath, fmt.Sprintf("%09d%s", fileId, HintFileNameSuffix))
}

// OpenHintFile 打开 hint 文件用于写入
func OpenHintFile(dirPath string, fileId uint32) (*HintFile, error) {
	ioManager, err := fio.NewIOManager(GetHintFileName(dirPath, fileId))
	if err != nil {
		return nil, err
	}
	return &HintFile{fileId: fileId, ioManager: ioManager}, nil
}

// WriteHintEntry 追加一条索引条目
func (hf *HintFile) WriteHintEntry(entry *HintEntry) error {
	buf := make([]byte, hintEntryHeaderSize+len(entry.Key))
	buf[0] = uint8(len(entry.Key))
	binary.BigEndian.PutUint32(buf[1:5], entry.RecordSize)
	binary.BigEndian.PutUint64(buf[5:13], uint64(entry.RecordOffset))
	if entry.Tombstone {
		buf[13] = 1
	}
	copy(buf[hintEntryHeaderSize:], entry.Key)

	_, err := hf.ioManager.Write(buf)
	return err
}

func (hf *HintFile) Sync() error {
	return hf.ioManager.Sync()
}

func (hf *HintFile) Close() error {
	return hf.ioManager.Close()
}

// HintFileIterator 按写入顺序遍历 hint 文件中的条目
type HintFileIterator struct {
	ioManager fio.IOManager
	offset    int64
	size      int64
}

// NewHintFileIterator 打开 hint 文件用于遍历
func NewHintFileIterator(dirPath string, fileId uint32) (*HintFileIterator, error) {
	ioManager, err := fio.NewIOManager(GetHintFileName(dirPath, fileId))
	if err != nil {
		return nil, err
	}
	size, err := ioManager.Size()
	if err != nil {
		_ = ioManager.Close()
		return nil, err
	}
	return &HintFileIterator{ioManager: ioManager, size: size}, nil
}

// Next 返回下一条索引条目, 遍历结束返回 io.EOF
// 文件尾部被截断的条目直接丢弃, 不视为损坏
func (it *HintFileIterator) Next() (*HintEntry, error) {
	if it.offset+hintEntryHeaderSize > it.size {
		return nil, io.EOF
	}

	header := make([]byte, hintEntryHeaderSize)
	if _, err := it.ioManager.Read(header, it.offset); err != nil {
		return nil, err
	}

	keySize := int64(header[0])
	if keySize == 0 || it.offset+hintEntryHeaderSize+keySize > it.size {
		return nil, io.EOF
	}

	key := make([]byte, keySize)
	if _, err := it.ioManager.Read(key, it.offset+hintEntryHeaderSize); err != nil {
		return nil, err
	}

	entry := &HintEntry{
		Key:          key,
		RecordSize:   binary.BigEndian.Uint32(header[1:5]),
		RecordOffset: int64(binary.BigEndian.Uint64(header[5:13])),
		Tombstone:    header[13] == 1,
	}
	it.offset += hintEntryHeaderSize + keySize
	return entry, nil
}

func (it *HintFileIterator) Close() error {
	return it.ioManager.Close()
}
