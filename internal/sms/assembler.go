package sms

import (
	"sync"
	"time"
)

// assemblyKey 长短信重组的归组键
// 参考号保留发送方给出的完整宽度,不同发件人的同号分组互不串扰
type assemblyKey struct {
	sender string
	ref    int
}

// assembly 一组未凑齐的长短信分片
type assembly struct {
	total     int
	parts     map[int]*Fragment // 分片序号 → 分片
	indexes   map[int]int       // 分片序号 → 模块存储索引
	createdAt time.Time
}

// Assembler 长短信重组器
// 并发安全:分片登记来自串口读取任务,过期清理来自维护任务
type Assembler struct {
	mu      sync.Mutex
	pending map[assemblyKey]*assembly

	now func() time.Time
}

// NewAssembler 创建空的重组器
func NewAssembler() *Assembler {
	return &Assembler{
		pending: make(map[assemblyKey]*assembly),
		now:     time.Now,
	}
}

// Add 登记一个长短信分片
// 重复序号的分片覆盖旧值(视作模块重发);凑齐全部分片时整组取出并返回,
// 返回的分片切片按序号升序排列,同时返回各分片的模块存储索引
func (a *Assembler) Add(fragment *Fragment, storageIndex int) ([]*Fragment, []int, bool) {
	if fragment.Part < 1 || fragment.Part > fragment.Total {
		return nil, nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := assemblyKey{sender: fragment.Sender, ref: fragment.Ref}
	group, ok := a.pending[key]
	if !ok {
		group = &assembly{
			total:     fragment.Total,
			parts:     make(map[int]*Fragment),
			indexes:   make(map[int]int),
			createdAt: a.now(),
		}
		a.pending[key] = group
	} else if fragment.Total != group.total {
		// 同组分片宣称的总数不一致,头部不可信,丢弃该分片;
		// 若登记,分片计数可能在缺片的情况下凑满总数
		return nil, nil, false
	}

	group.parts[fragment.Part] = fragment
	group.indexes[fragment.Part] = storageIndex

	if len(group.parts) < group.total {
		return nil, nil, false
	}

	delete(a.pending, key)

	fragments := make([]*Fragment, 0, group.total)
	indexes := make([]int, 0, group.total)
	for part := 1; part <= group.total; part++ {
		fragments = append(fragments, group.parts[part])
		indexes = append(indexes, group.indexes[part])
	}
	return fragments, indexes, true
}

// EvictStale 清理超过最大存活时间仍未凑齐的分组
// 返回被清理分组占用的模块存储索引,调用方负责删除对应存储槽位
func (a *Assembler) EvictStale(maxAge time.Duration) []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-maxAge)

	var evicted []int
	for key, group := range a.pending {
		if group.createdAt.After(cutoff) {
			continue
		}
		for _, index := range group.indexes {
			evicted = append(evicted, index)
		}
		delete(a.pending, key)
	}
	return evicted
}

// PendingCount 当前未凑齐的分组数量
func (a *Assembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
