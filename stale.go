package halodb

import "sync"

// staleAccountant 记录每个文件中已经失效的字节数, 并选出待 merge 的候选文件
// 失效字节达到文件大小的一定比例后, 文件进入候选集合, 计数器同时清零
type staleAccountant struct {
	mu         sync.Mutex
	staleBytes map[uint32]int64
	victims    map[uint32]struct{}
	threshold  float64
}

func newStaleAccountant(threshold float64) *staleAccountant {
	return &staleAccountant{
		staleBytes: make(map[uint32]int64),
		victims:    make(map[uint32]struct{}),
		threshold:  threshold,
	}
}

// charge 给文件累加失效字节数
// fileSize 为 0 表示文件还在写入中, 此时只累加不做候选判定
func (sa *staleAccountant) charge(fileId uint32, staleSize int64, fileSize int64) {
	if staleSize <= 0 {
		return
	}
	sa.mu.Lock()
	defer sa.mu.Unlock()

	total := sa.staleBytes[fileId] + staleSize
	if fileSize > 0 && total > fileSize {
		// 失效字节数不可能超过文件的物理大小
		total = fileSize
	}
	if fileSize > 0 && float64(total) >= sa.threshold*float64(fileSize) {
		sa.victims[fileId] = struct{}{}
		delete(sa.staleBytes, fileId)
		return
	}
	sa.staleBytes[fileId] = total
}

// noteSealed 文件封存时补一次候选判定, 覆盖失效字节全部在活跃期间累积的情况
func (sa *staleAccountant) noteSealed(fileId uint32, fileSize int64) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if fileSize > 0 && float64(sa.staleBytes[fileId]) >= sa.threshold*float64(fileSize) {
		sa.victims[fileId] = struct{}{}
		delete(sa.staleBytes, fileId)
	}
}

// victimCount 当前候选文件数量
func (sa *staleAccountant) victimCount() int {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	return len(sa.victims)
}

// electBatch 取出至多 n 个候选文件, 不从候选集合中移除
func (sa *staleAccountant) electBatch(n int) []uint32 {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	batch := make([]uint32, 0, n)
	for fileId := range sa.victims {
		if len(batch) >= n {
			break
		}
		batch = append(batch, fileId)
	}
	return batch
}

// retire merge 重写完成后, 将文件从候选集合中移除
func (sa *staleAccountant) retire(fileIds []uint32) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	for _, fileId := range fileIds {
		delete(sa.victims, fileId)
	}
}

// dropFile 文件被删除时移除其全部记录
func (sa *staleAccountant) dropFile(fileId uint32) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	delete(sa.staleBytes, fileId)
	delete(sa.victims, fileId)
}

// reclaimable 当前记录在案的失效字节总数
func (sa *staleAccountant) reclaimable() int64 {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	var total int64
	for _, size := range sa.staleBytes {
		total += size
	}
	return total
}
