package ext

// VirtToPhys converts a direct-map virtual address to the physical
// address it exposes ("phys = virt − EXT_DIRECT_MAP_ADDR").
// Returns ErrDirectMapOutOfRange if virt does not lie inside the window.
func (r *Runtime) VirtToPhys(virt uint64) (uint64, error) {
	if virt < r.directMapAddr {
		return 0, ErrDirectMapOutOfRange
	}
	phys := virt - r.directMapAddr
	if phys >= r.directMapSize {
		return 0, ErrDirectMapOutOfRange
	}
	return phys, nil
}

// PhysToVirt converts a physical address into its direct-map virtual
// address. Returns ErrDirectMapOutOfRange if phys is outside
// [0, EXT_DIRECT_MAP_SIZE).
func (r *Runtime) PhysToVirt(phys uint64) (uint64, error) {
	if phys >= r.directMapSize {
		return 0, ErrDirectMapOutOfRange
	}
	return r.directMapAddr + phys, nil
}
