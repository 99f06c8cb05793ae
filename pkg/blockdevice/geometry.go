package blockdevice

import "fmt"

// Area describes one of the two equally-halved regions engines ping-pong
// writes between.
type Area struct {
	Offset uint32
	Size   uint32
}

// Geometry is the once-computed split of a device into two areas, each
// aligned on erase-unit boundaries even when erase-unit sizes vary across
// the device (spec.md §4.1).
type Geometry struct {
	Areas [2]Area
}

// ComputeGeometry walks the device forward, summing erase-unit sizes until
// reaching half the device size; the remainder becomes area 1. It also
// enforces the monotonicity assumption spec.md §9 flags as an open
// question: erase-unit sizes must be non-decreasing from the base address,
// or callers on exotic banked flash must pre-validate their device layout
// themselves. Violating that invariant returns an error rather than
// silently mis-splitting the areas.
func ComputeGeometry(bd BlockDevice) (Geometry, error) {
	total := bd.Size()
	if total == 0 {
		return Geometry{}, fmt.Errorf("blockdevice: zero-size device")
	}
	half := total / 2

	var offset uint32
	var lastEraseSize uint32
	for offset < half {
		es := bd.EraseSize(offset)
		if es == 0 {
			return Geometry{}, fmt.Errorf("blockdevice: erase size 0 at offset %d", offset)
		}
		if lastEraseSize != 0 && es < lastEraseSize {
			return Geometry{}, fmt.Errorf("blockdevice: erase size decreased at offset %d (%d -> %d); non-monotonic banked flash is not supported", offset, lastEraseSize, es)
		}
		lastEraseSize = es
		offset += es
	}

	area0 := Area{Offset: 0, Size: offset}
	area1 := Area{Offset: offset, Size: total - offset}
	if area1.Size == 0 {
		return Geometry{}, fmt.Errorf("blockdevice: area 1 has zero size, device too small or erase units too coarse")
	}
	return Geometry{Areas: [2]Area{area0, area1}}, nil
}
