package data

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

type LogRecordType = byte

const (
	LogRecordNormal LogRecordType = iota
	LogRecordDeleted
)

// 固定头部: crc(4) + keySize(1) + valueSize(4) + tombstone(1) + reserved(7)
// crc 覆盖 crc 字段之后的头部字节以及 key 和 value
const (
	HeaderSize = 17
	MaxKeySize = 255
)

var (
	ErrInvalidCRC     = errors.New("invalid crc value, log record maybe corrupted")
	ErrInvalidHeader  = errors.New("invalid log record header")
	ErrTruncatedValue = errors.New("log record body exceeds the remaining buffer")
)

// LogRecord 写入到数据文件的记录
type LogRecord struct {
	Key   []byte
	Value []byte
	Type  LogRecordType
}

// LogRecordHeader LogRecord 头部信息
type LogRecordHeader struct {
	crc        uint32        // crc 校验值
	keySize    uint8         // key 的长度
	valueSize  uint32        // value 的长度
	recordType LogRecordType // 标识 LogRecord 的类型
}

// LogRecordPos 数据内存索引, 主要描述数据在磁盘上的位置
type LogRecordPos struct {
	Fid    uint32 // 文件 id, 表示数据存储在哪个文件中
	Offset int64  // 偏移量, 表示数据存储在文件中的哪个位置
	Size   uint32 // 记录在磁盘上的大小
}

// Same 判断两个位置索引是否指向同一条磁盘记录
func (pos *LogRecordPos) Same(other *LogRecordPos) bool {
	if pos == nil || other == nil {
		return pos == other
	}
	return pos.Fid == other.Fid && pos.Offset == other.Offset
}

// EncodedRecordSize 计算记录编码后在磁盘上的大小
func EncodedRecordSize(keySize, valueSize int) int64 {
	return int64(HeaderSize + keySize + valueSize)
}

// EncodeLogRecord 对 LogRecord 进行编码, 返回字节数组及长度
// 墓碑记录的 value 长度恒为 0
func EncodeLogRecord(logRecord *LogRecord) ([]byte, int64) {
	size := EncodedRecordSize(len(logRecord.Key), len(logRecord.Value))
	buf := make([]byte, size)

	buf[4] = uint8(len(logRecord.Key))
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(logRecord.Value)))
	buf[9] = logRecord.Type

	copy(buf[HeaderSize:], logRecord.Key)
	copy(buf[HeaderSize+len(logRecord.Key):], logRecord.Value)

	crc := crc32.ChecksumIEEE(buf[4:])
	binary.BigEndian.PutUint32(buf[:4], crc)

	return buf, size
}

// DecodeLogRecordHeader 解码头部信息, 全零头部也照常返回, 由调用方通过 IsZero 判定为文件末尾
func DecodeLogRecordHeader(buf []byte) (*LogRecordHeader, error) {
	if len(buf) < HeaderSize {
		return nil, ErrInvalidHeader
	}

	header := &LogRecordHeader{
		crc:        binary.BigEndian.Uint32(buf[:4]),
		keySize:    buf[4],
		valueSize:  binary.BigEndian.Uint32(buf[5:9]),
		recordType: buf[9],
	}
	return header, nil
}

// IsZero 头部是否为全零, 对应文件末尾预分配或未写入的区域
func (h *LogRecordHeader) IsZero() bool {
	return h.crc == 0 && h.keySize == 0 && h.valueSize == 0 && h.recordType == 0
}

// KeySize 返回头部记录的 key 长度
func (h *LogRecordHeader) KeySize() uint8 { return h.keySize }

// ValueSize 返回头部记录的 value 长度
func (h *LogRecordHeader) ValueSize() uint32 { return h.valueSize }

// DecodeLogRecord 解码一条完整的记录并校验 crc
func DecodeLogRecord(buf []byte) (*LogRecord, error) {
	header, err := DecodeLogRecordHeader(buf)
	if err != nil {
		return nil, err
	}
	if header.keySize == 0 {
		return nil, ErrInvalidHeader
	}
	if header.recordType == LogRecordDeleted && header.valueSize != 0 {
		return nil, ErrInvalidHeader
	}

	bodySize := int(header.keySize) + int(header.valueSize)
	if len(buf) < HeaderSize+bodySize {
		return nil, ErrTruncatedValue
	}

	crc := crc32.ChecksumIEEE(buf[4 : HeaderSize+bodySize])
	if crc != header.crc {
		return nil, ErrInvalidCRC
	}

	record := &LogRecord{
		Key:  buf[HeaderSize : HeaderSize+int(header.keySize)],
		Type: header.recordType,
	}
	if header.valueSize > 0 {
		record.Value = buf[HeaderSize+int(header.keySize) : HeaderSize+bodySize]
	}
	return record, nil
}

// EncodeLogRecordPos 对位置信息进行编码
func EncodeLogRecordPos(pos *LogRecordPos) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[:4], pos.Fid)
	binary.BigEndian.PutUint64(buf[4:12], uint64(pos.Offset))
	binary.BigEndian.PutUint32(buf[12:16], pos.Size)
	return buf
}

// DecodeLogRecordPos 解码位置信息
func DecodeLogRecordPos(buf []byte) *LogRecordPos {
	return &LogRecordPos{
		Fid:    binary.BigEndian.Uint32(buf[:4]),
		Offset: int64(binary.BigEndian.Uint64(buf[4:12])),
		Size:   binary.BigEndian.Uint32(buf[12:16]),
	}
}
