package pool

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapPagePool is the default PagePool: one anonymous mmap'd arena,
// carved into fixed-size pages tracked by a free list. It exists for
// bring-up and tests; a real deployment backs page_pool with the
// host's actual physical allocator.
type MmapPagePool struct {
	mu       sync.Mutex
	arena    []byte
	pageSize int
	free     []bool // free[i] true means page i is available
}

// NewMmapPagePool mmaps an arena sized for cfg.MaxPages pages of
// cfg.PageSize bytes each.
func NewMmapPagePool(cfg Config) (*MmapPagePool, error) {
	cfg.normalize()
	size := cfg.MaxPages * cfg.PageSize
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pool: mmap page arena: %w", err)
	}
	if err := unix.Madvise(mem, unix.MADV_MERGEABLE); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("pool: madvise page arena: %w", err)
	}

	free := make([]bool, cfg.MaxPages)
	for i := range free {
		free[i] = true
	}
	return &MmapPagePool{arena: mem, pageSize: cfg.PageSize, free: free}, nil
}

// PageSize implements PagePool.
func (p *MmapPagePool) PageSize() int { return p.pageSize }

// AllocPage implements PagePool. phys is the page's byte offset into
// the arena, not a host physical address; mem_op.alloc_page hands it
// to the extension unchanged.
func (p *MmapPagePool) AllocPage() (uintptr, uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, isFree := range p.free {
		if !isFree {
			continue
		}
		p.free[i] = false
		off := i * p.pageSize
		page := p.arena[off : off+p.pageSize]
		for j := range page {
			page[j] = 0
		}
		virt := uintptr(unsafe.Pointer(&p.arena[off]))
		return virt, uintptr(off), nil
	}
	return 0, 0, ErrPoolExhausted
}

// FreePage implements PagePool.
func (p *MmapPagePool) FreePage(virt uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.indexOf(virt)
	if !ok || p.free[idx] {
		return ErrNotAllocated
	}
	p.free[idx] = true
	return nil
}

// Close unmaps the arena. Any outstanding page pointers become invalid.
func (p *MmapPagePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.arena == nil {
		return nil
	}
	err := unix.Munmap(p.arena)
	p.arena = nil
	return err
}

func (p *MmapPagePool) indexOf(virt uintptr) (int, bool) {
	if len(p.arena) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&p.arena[0]))
	end := base + uintptr(len(p.arena))
	if virt < base || virt >= end {
		return 0, false
	}
	off := virt - base
	if int(off)%p.pageSize != 0 {
		return 0, false
	}
	return int(off) / p.pageSize, true
}

// MmapHugePool is the default HugePool: carves cfg.HugePageMultiple-page
// contiguous runs out of its own separate arena, tracked the same way
// as MmapPagePool but over granule-sized slots rather than pages.
type MmapHugePool struct {
	mu              sync.Mutex
	arena           []byte
	granuleSize     int
	pagesPerGranule int
	free            []bool
}

// NewMmapHugePool mmaps an arena sized for cfg.MaxHugeRegions granules
// of cfg.HugePageMultiple*cfg.PageSize bytes each.
func NewMmapHugePool(cfg Config) (*MmapHugePool, error) {
	cfg.normalize()
	granule := cfg.HugePageMultiple * cfg.PageSize
	size := cfg.MaxHugeRegions * granule
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pool: mmap huge arena: %w", err)
	}
	if err := unix.Madvise(mem, unix.MADV_MERGEABLE); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("pool: madvise huge arena: %w", err)
	}

	free := make([]bool, cfg.MaxHugeRegions)
	for i := range free {
		free[i] = true
	}
	return &MmapHugePool{arena: mem, granuleSize: granule, pagesPerGranule: cfg.HugePageMultiple, free: free}, nil
}

// HugePageSize implements HugePool.
func (p *MmapHugePool) HugePageSize() int { return p.granuleSize }

// AllocHuge implements HugePool. It only ever hands out whole granules;
// pages is validated against the granule size and must match it
// exactly, since this pool has no sub-granule accounting.
func (p *MmapHugePool) AllocHuge(pages int) (uintptr, uintptr, error) {
	if pages != p.pagesPerGranule {
		return 0, 0, ErrInvalidSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, isFree := range p.free {
		if !isFree {
			continue
		}
		p.free[i] = false
		off := i * p.granuleSize
		region := p.arena[off : off+p.granuleSize]
		for j := range region {
			region[j] = 0
		}
		virt := uintptr(unsafe.Pointer(&p.arena[off]))
		return virt, uintptr(off), nil
	}
	return 0, 0, ErrPoolExhausted
}

// FreeHuge implements HugePool.
func (p *MmapHugePool) FreeHuge(virt uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.indexOf(virt)
	if !ok || p.free[idx] {
		return ErrNotAllocated
	}
	p.free[idx] = true
	return nil
}

// Close unmaps the arena.
func (p *MmapHugePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.arena == nil {
		return nil
	}
	err := unix.Munmap(p.arena)
	p.arena = nil
	return err
}

func (p *MmapHugePool) indexOf(virt uintptr) (int, bool) {
	if len(p.arena) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&p.arena[0]))
	end := base + uintptr(len(p.arena))
	if virt < base || virt >= end {
		return 0, false
	}
	off := virt - base
	if int(off)%p.granuleSize != 0 {
		return 0, false
	}
	return int(off) / p.granuleSize, true
}
