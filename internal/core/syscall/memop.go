package syscall

import (
	"sync"

	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
)

// mem_op indices: alloc_page/free_page/alloc_huge/free_huge/
// alloc_heap. There is no free_heap index in this family; alloc_heap
// is a bump allocator over whole pages borrowed from page_pool, with
// no per-allocation free — matching the family list exactly rather
// than inventing a release path the ABI doesn't name.
const (
	MemOpAllocPage uint32 = iota
	MemOpFreePage
	MemOpAllocHuge
	MemOpFreeHuge
	MemOpAllocHeap
)

// heapState is mem_op.alloc_heap's bump allocator, carving
// sub-page-granularity requests out of whole pages borrowed from
// page_pool on demand.
type heapState struct {
	mu       sync.Mutex
	pageVirt uintptr
	pagePhys uintptr
	offset   int
	pageSize int
}

func memOpHandler(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status {
	switch index {
	case MemOpAllocPage:
		if d.Pages == nil {
			return status.FailureUnsupported
		}
		virt, phys, err := d.Pages.AllocPage()
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = uint64(virt)
		regs.Reg[2] = uint64(phys)
		return status.Success
	case MemOpFreePage:
		if d.Pages == nil {
			return status.FailureUnsupported
		}
		if err := d.Pages.FreePage(uintptr(regs.Reg[1])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case MemOpAllocHuge:
		if d.Huge == nil {
			return status.FailureUnsupported
		}
		virt, phys, err := d.Huge.AllocHuge(int(regs.Reg[1]))
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = uint64(virt)
		regs.Reg[2] = uint64(phys)
		return status.Success
	case MemOpFreeHuge:
		if d.Huge == nil {
			return status.FailureUnsupported
		}
		if err := d.Huge.FreeHuge(uintptr(regs.Reg[1])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case MemOpAllocHeap:
		if d.Pages == nil {
			return status.FailureUnsupported
		}
		virt, err := d.allocHeap(int(regs.Reg[1]))
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = uint64(virt)
		return status.Success
	default:
		return status.FailureUnsupported
	}
}

func (d *Dispatcher) allocHeap(size int) (uintptr, error) {
	if size <= 0 {
		return 0, nil
	}
	d.heap.mu.Lock()
	defer d.heap.mu.Unlock()

	if d.heap.pageSize == 0 {
		d.heap.pageSize = d.Pages.PageSize()
	}
	if d.heap.pageVirt == 0 || d.heap.offset+size > d.heap.pageSize {
		virt, phys, err := d.Pages.AllocPage()
		if err != nil {
			return 0, err
		}
		d.heap.pageVirt, d.heap.pagePhys, d.heap.offset = virt, phys, 0
	}
	out := d.heap.pageVirt + uintptr(d.heap.offset)
	d.heap.offset += size
	return out, nil
}
