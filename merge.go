package halodb

import (
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DalavanCloud/HaloDB/data"
)

// 启动 merge 后台任务
func (db *DB) startMergeScheduler() {
	db.mergeDone.Add(1)
	go db.runMergeScheduler()
}

// 停止 merge 后台任务并等待其退出, 正在进行的一轮 merge 会在记录边界停下
func (db *DB) stopMergeScheduler() {
	db.mu.Lock()
	if db.mergeStop == nil {
		db.mu.Unlock()
		return
	}
	stop := db.mergeStop
	db.mergeStop = nil
	db.mu.Unlock()

	close(stop)
	if !db.options.MergeDisabled {
		db.mergeDone.Wait()
	}
}

func (db *DB) runMergeScheduler() {
	defer db.mergeDone.Done()

	db.mu.RLock()
	stop := db.mergeStop
	db.mu.RUnlock()

	ticker := time.NewTicker(db.options.MergeJobInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			db.mergeTick()
		}
	}
}

// 一次调度: 候选文件足够多时才启动一轮 merge
func (db *DB) mergeTick() {
	if db.stale.victimCount() < db.options.MergeThresholdFileNumber {
		return
	}
	batch := db.stale.electBatch(db.options.MergeThresholdFileNumber)
	if err := db.mergeFiles(batch); err != nil {
		db.logger.Warn("merge round failed", zap.Error(err))
	}
}

// Merge 手动触发一次全量 merge, 不受候选阈值限制
func (db *DB) Merge() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDatabaseClosed
	}
	// 活跃文件也参与: 先封存滚动, 让其中的记录可以被重写
	if db.activeFile != nil && db.activeFile.Size() > 0 {
		if err := db.rotateActiveFile(); err != nil {
			db.mu.Unlock()
			return err
		}
	}
	fileIds := make([]uint32, 0, len(db.olderFiles))
	for fileId := range db.olderFiles {
		fileIds = append(fileIds, fileId)
	}
	db.mu.Unlock()

	return db.mergeFiles(fileIds)
}

// mergeFiles 将给定文件中仍然有效的记录重写到新的数据文件, 然后删除旧文件
// 记录有效性通过与索引中的位置比较来判断, 索引替换使用 CAS, 不会覆盖并发写入
func (db *DB) mergeFiles(fileIds []uint32) error {
	if len(fileIds) == 0 {
		return nil
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDatabaseClosed
	}
	if db.isMerging {
		db.mu.Unlock()
		return ErrMergeIsProgress
	}
	db.isMerging = true
	stop := db.mergeStop
	db.mu.Unlock()
	defer func() {
		db.mu.Lock()
		db.isMerging = false
		db.mu.Unlock()
	}()

	// 取出待 merge 的文件快照, 只处理仍然存在的封存文件
	db.mu.RLock()
	victims := make([]*data.DataFile, 0, len(fileIds))
	for _, fileId := range fileIds {
		if file := db.olderFiles[fileId]; file != nil {
			victims = append(victims, file)
		}
	}
	db.mu.RUnlock()

	if len(victims) == 0 {
		db.stale.retire(fileIds)
		return nil
	}

	// 待 merge 的文件从小到大进行排序, 依次重写
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].FileId < victims[j].FileId
	})

	out, err := db.openMergeOutputFile()
	if err != nil {
		return err
	}
	outputs := []*data.DataFile{out}

	var copied, dropped int
	var interrupted bool

scan:
	for _, dataFile := range victims {
		var offset int64 = 0
		for {
			// 在记录边界响应停止信号
			if stop != nil {
				select {
				case <-stop:
					interrupted = true
					break scan
				default:
				}
			}

			logRecord, size, err := dataFile.ReadLogRecord(offset)
			if err != nil {
				if err == io.EOF {
					break
				}
				db.sealMergeOutputs(outputs)
				return err
			}

			// 和内存中的索引位置进行比较, 只有仍然有效的记录才会被重写
			// 墓碑不会出现在索引中, 在这里被自然丢弃
			pos := db.index.Get(logRecord.Key)
			if pos != nil && pos.Fid == dataFile.FileId && pos.Offset == offset {
				if off := out.Size(); off > 0 && off+size > db.options.MaxFileSize {
					if err := out.Seal(); err != nil {
						db.sealMergeOutputs(outputs)
						return err
					}
					if out, err = db.openMergeOutputFile(); err != nil {
						db.sealMergeOutputs(outputs)
						return err
					}
					outputs = append(outputs, out)
				}

				encRecord, _ := data.EncodeLogRecord(logRecord)
				newOff, err := out.WriteRecord(logRecord.Key, encRecord, logRecord.Type)
				if err != nil {
					db.sealMergeOutputs(outputs)
					return err
				}
				newPos := &data.LogRecordPos{Fid: out.FileId, Offset: newOff, Size: uint32(size)}
				if db.index.Replace(logRecord.Key, pos, newPos) {
					copied++
				} else {
					// 并发写入抢先更新了这条 key, 刚重写的字节立即失效
					db.stale.charge(out.FileId, size, 0)
					dropped++
				}
			}
			offset += size
		}
	}

	if err := db.sealMergeOutputs(outputs); err != nil {
		return err
	}

	if interrupted {
		// 停止请求到来, 旧文件保持原样, 下次恢复依然一致
		return nil
	}

	// 从读取视图中摘除旧文件并删除, 持有写锁时不会有读取在途
	db.mu.Lock()
	for _, dataFile := range victims {
		delete(db.olderFiles, dataFile.FileId)
	}
	db.mu.Unlock()

	for _, dataFile := range victims {
		if err := dataFile.Delete(); err != nil {
			return err
		}
	}
	db.stale.retire(fileIds)
	for _, dataFile := range victims {
		db.stale.dropFile(dataFile.FileId)
	}

	db.logger.Info("merge round finished",
		zap.Int("victims", len(victims)),
		zap.Int("copiedRecords", copied),
		zap.Int("staleCopies", dropped),
	)
	return nil
}

// 打开一个 merge 输出文件, 先发布到读取视图再写入
// 这样并发的读取总能解析到索引里出现的文件 id
func (db *DB) openMergeOutputFile() (*data.DataFile, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	dataFile, err := data.OpenDataFile(db.options.DirPath, db.nextFileId)
	if err != nil {
		return nil, err
	}
	db.nextFileId++
	db.olderFiles[dataFile.FileId] = dataFile
	return dataFile, nil
}

// 封存全部 merge 输出文件, 没写入任何记录的直接删除
func (db *DB) sealMergeOutputs(outputs []*data.DataFile) error {
	for _, out := range outputs {
		if out.Sealed() {
			continue
		}
		if out.Size() == 0 {
			db.mu.Lock()
			delete(db.olderFiles, out.FileId)
			db.mu.Unlock()
			if err := out.Delete(); err != nil {
				return err
			}
			continue
		}
		if err := out.Seal(); err != nil {
			return err
		}
	}
	return nil
}
