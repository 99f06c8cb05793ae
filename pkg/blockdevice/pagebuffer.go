package blockdevice

// PageBuffer coalesces sub-program-size writes into whole-page programs.
// It is interposed whenever the underlying device's program size exceeds a
// record header size (spec.md §4.1): engines patch a handful of header
// bytes (typically just the CRC field) after the payload has already been
// written, and on devices that can only program whole pages that patch must
// be folded into one page-sized program rather than issued as a short,
// illegal sub-page write.
type PageBuffer struct {
	under BlockDevice

	pageSize   uint32
	pageAddr   uint32 // base address of the currently buffered page
	buf        []byte
	loaded     bool
	dirty      bool
}

// NewPageBuffer wraps under with page buffering. It is a no-op pass-through
// if under's program size is 1 (byte-programmable device).
func NewPageBuffer(under BlockDevice) *PageBuffer {
	return &PageBuffer{
		under:    under,
		pageSize: under.ProgramSize(),
	}
}

func (p *PageBuffer) pageOf(addr uint32) uint32 {
	return (addr / p.pageSize) * p.pageSize
}

// WriteAt merges data into the buffered page, flushing any previously
// buffered page that does not cover addr first.
func (p *PageBuffer) WriteAt(addr uint32, data []byte) error {
	if p.pageSize <= 1 {
		return p.under.Program(addr, data)
	}
	target := p.pageOf(addr)
	if p.loaded && p.pageAddr != target {
		if err := p.Flush(); err != nil {
			return err
		}
	}
	if !p.loaded {
		p.buf = make([]byte, p.pageSize)
		if err := p.under.Read(target, p.buf); err != nil {
			return err
		}
		p.pageAddr = target
		p.loaded = true
	}
	off := addr - p.pageAddr
	if off+uint32(len(data)) > p.pageSize {
		return ErrPageSpan
	}
	copy(p.buf[off:], data)
	p.dirty = true
	return nil
}

// ErrPageSpan is returned when a write would straddle more than one page;
// callers must split such writes themselves.
var ErrPageSpan = pageSpanError{}

type pageSpanError struct{}

func (pageSpanError) Error() string { return "blockdevice: write spans more than one page" }

// Flush programs the currently buffered page, if dirty, and clears it.
func (p *PageBuffer) Flush() error {
	if !p.loaded || !p.dirty {
		p.loaded = false
		p.dirty = false
		return nil
	}
	if err := p.under.Program(p.pageAddr, p.buf); err != nil {
		return err
	}
	p.loaded = false
	p.dirty = false
	return nil
}

// Read always goes straight to the underlying device: buffered-but-
// unflushed bytes are never observable to a reader, matching real flash
// where a program is not visible until it completes.
func (p *PageBuffer) Read(addr uint32, buf []byte) error {
	return p.under.Read(addr, buf)
}
