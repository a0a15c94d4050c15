package domain

import (
	"sort"
	"sync/atomic"
)

type slotNode struct {
	intent *Intent
	next   *slotNode
}

// intentSlot 无锁只追加容器：CAS 压入单链表头，读取时按 Seq 还原提交顺序。
// 并发提交之间互不阻塞，也不会丢失更新。
type intentSlot struct {
	handle string
	head   atomic.Pointer[slotNode]
	size   atomic.Int64
}

func newIntentSlot(handle string) *intentSlot {
	return &intentSlot{handle: handle}
}

func (s *intentSlot) push(it *Intent) {
	n := &slotNode{intent: it}
	for {
		old := s.head.Load()
		n.next = old
		if s.head.CompareAndSwap(old, n) {
			s.size.Add(1)
			return
		}
	}
}

func (s *intentSlot) len() int {
	return int(s.size.Load())
}

// items 按提交顺序返回内容，不修改容器
func (s *intentSlot) items() []*Intent {
	out := make([]*Intent, 0, s.len())
	for n := s.head.Load(); n != nil; n = n.next {
		out = append(out, n.intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// drain 取出全部内容并清空
func (s *intentSlot) drain() []*Intent {
	out := s.items()
	s.reset()
	return out
}

func (s *intentSlot) reset() {
	s.head.Store(nil)
	s.size.Store(0)
}
