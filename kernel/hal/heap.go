package hal

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

const PageSize = 4096

var (
	ErrOutOfMemory = errors.New("heap: sin memoria")
	ErrInvalidSize = errors.New("heap: tamaño invalido")
)

// Allocator es el heap del kernel: kmalloc/kfree y un alocador de paginas
// alineadas para stacks y buffers tipo DMA.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
	AllocPages(n int) ([]byte, error)
	FreePages(buf []byte)
}

// Heap lleva la cuenta de los bytes en uso contra un limite fijo.
type Heap struct {
	mu       sync.Mutex
	limit    int
	inUse    int
	allocs   uint64
	frees    uint64
	failures uint64
}

func NewHeap(limit int) *Heap {
	return &Heap{limit: limit}
}

func (h *Heap) reservar(size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inUse+size > h.limit {
		h.failures++
		return fmt.Errorf("%w: pedidos %d bytes, libres %d", ErrOutOfMemory, size, h.limit-h.inUse)
	}
	h.inUse += size
	h.allocs++
	return nil
}

func (h *Heap) liberar(size int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inUse -= size
	h.frees++
}

func (h *Heap) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if err := h.reservar(size); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

func (h *Heap) Free(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	h.liberar(cap(buf))
}

// AllocPages devuelve n paginas contiguas alineadas a PageSize.
func (h *Heap) AllocPages(n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidSize
	}
	size := n * PageSize
	if err := h.reservar(size); err != nil {
		return nil, err
	}

	raw := make([]byte, size+PageSize)
	off := 0
	if r := int(uintptr(unsafe.Pointer(&raw[0])) % PageSize); r != 0 {
		off = PageSize - r
	}
	return raw[off : off+size : off+size], nil
}

func (h *Heap) FreePages(buf []byte) {
	h.Free(buf)
}

// InUse devuelve los bytes reservados en este momento.
func (h *Heap) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// SetLimit cambia el limite del heap. Sirve para forzar fallas de alocacion.
func (h *Heap) SetLimit(limit int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limit = limit
}

type HeapStats struct {
	Limit    int
	InUse    int
	Allocs   uint64
	Frees    uint64
	Failures uint64
}

func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeapStats{
		Limit:    h.limit,
		InUse:    h.inUse,
		Allocs:   h.allocs,
		Frees:    h.frees,
		Failures: h.failures,
	}
}
