package ipc

import (
	"fmt"

	"azzaros/kernel/hal"
	"azzaros/kernel/ksync"
)

const DefaultPipeCapacity = 4096

// pipe es un buffer circular de bytes. leer y escribir son avisos de "cambio
// el estado": leer arranca en 0 y escribir en la capacidad. Cada extremo
// tiene su propio mutex, asi que como mucho hay un lector y un escritor
// bloqueados en los semaforos y el unico Signal de Close los alcanza a los dos.
type pipe struct {
	heap hal.Allocator
	buf  []byte

	mu         *ksync.Mutex
	leer       *ksync.Semaphore
	escribir   *ksync.Semaphore
	lectores   *ksync.Mutex
	escritores *ksync.Mutex

	posLectura   int
	posEscritura int
	cantidad     int
	cerrado      bool
	destruido    bool
}

// ReadEnd es el extremo de lectura de un pipe.
type ReadEnd struct{ p *pipe }

// WriteEnd es el extremo de escritura de un pipe.
type WriteEnd struct{ p *pipe }

func NewPipe(k ksync.Kernel, heap hal.Allocator, capacity int) (*ReadEnd, *WriteEnd, error) {
	if capacity <= 0 {
		return nil, nil, fmt.Errorf("%w: capacidad %d", ErrInvalidSize, capacity)
	}
	buf, err := heap.Alloc(capacity)
	if err != nil {
		return nil, nil, fmt.Errorf("no se pudo alocar el buffer del pipe: %w", err)
	}

	leer, _ := ksync.NewSemaphore(k, 0)
	escribir, _ := ksync.NewSemaphore(k, capacity)
	p := &pipe{
		heap:       heap,
		buf:        buf,
		mu:         ksync.NewMutex(k),
		leer:       leer,
		escribir:   escribir,
		lectores:   ksync.NewMutex(k),
		escritores: ksync.NewMutex(k),
	}
	return &ReadEnd{p: p}, &WriteEnd{p: p}, nil
}

// Read bloquea hasta llenar buf o hasta que el pipe se cierre. Lo que quedo
// en el buffer al cerrar se sigue entregando; sin ningun byte devuelve
// ErrClosed.
func (r *ReadEnd) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrInvalidSize
	}
	p := r.p
	if err := p.lectores.Lock(); err != nil {
		return 0, err
	}
	defer p.lectores.Unlock()

	leidos := 0
	for leidos < len(buf) {
		if err := p.mu.Lock(); err != nil {
			break
		}
		n := p.sacar(buf[leidos:])
		cerrado := p.cerrado
		// lo que avisaron hasta aca ya esta visto
		for p.leer.TryWait() {
		}
		p.mu.Unlock()

		leidos += n
		if n > 0 {
			p.escribir.Signal()
			continue
		}
		if cerrado {
			break
		}
		if err := p.leer.Wait(); err != nil {
			break
		}
	}

	if leidos == 0 {
		return 0, ErrClosed
	}
	return leidos, nil
}

// Write bloquea hasta escribir todo data o hasta que el pipe se cierre. Si
// no llego a escribir todo devuelve lo escrito junto con ErrClosed.
func (w *WriteEnd) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrInvalidSize
	}
	p := w.p
	if err := p.escritores.Lock(); err != nil {
		return 0, err
	}
	defer p.escritores.Unlock()

	escritos := 0
	for escritos < len(data) {
		if err := p.mu.Lock(); err != nil {
			break
		}
		if p.cerrado {
			p.mu.Unlock()
			break
		}
		n := p.meter(data[escritos:])
		for p.escribir.TryWait() {
		}
		p.mu.Unlock()

		escritos += n
		if n > 0 {
			p.leer.Signal()
			continue
		}
		if err := p.escribir.Wait(); err != nil {
			break
		}
	}

	if escritos < len(data) {
		return escritos, ErrClosed
	}
	return escritos, nil
}

// sacar y meter corren con p.mu tomado.
func (p *pipe) sacar(dst []byte) int {
	n := min(len(dst), p.cantidad)
	for i := 0; i < n; i++ {
		dst[i] = p.buf[p.posLectura]
		p.posLectura = (p.posLectura + 1) % len(p.buf)
	}
	p.cantidad -= n
	return n
}

func (p *pipe) meter(src []byte) int {
	n := min(len(src), len(p.buf)-p.cantidad)
	for i := 0; i < n; i++ {
		p.buf[p.posEscritura] = src[i]
		p.posEscritura = (p.posEscritura + 1) % len(p.buf)
	}
	p.cantidad += n
	return n
}

func (p *pipe) cerrar() error {
	err := bajoLock(p.mu, func() { p.cerrado = true })
	if err != nil {
		return err
	}
	p.leer.Signal()
	p.escribir.Signal()
	return nil
}

func (p *pipe) destruir() error {
	if err := p.cerrar(); err != nil {
		return err
	}
	if p.destruido {
		return nil
	}
	p.destruido = true
	p.leer.Destroy()
	p.escribir.Destroy()
	p.heap.Free(p.buf)
	p.buf = nil
	p.cantidad = 0
	return nil
}

func (p *pipe) disponibles() int {
	n := 0
	_ = bajoLock(p.mu, func() { n = p.cantidad })
	return n
}

func (r *ReadEnd) Close() error { return r.p.cerrar() }
func (r *ReadEnd) Destroy() error { return r.p.destruir() }
func (r *ReadEnd) Available() int { return r.p.disponibles() }
func (r *ReadEnd) IsClosed() bool { return r.p.cerrado }

func (w *WriteEnd) Close() error { return w.p.cerrar() }
func (w *WriteEnd) Destroy() error { return w.p.destruir() }
func (w *WriteEnd) Available() int { return w.p.disponibles() }
func (w *WriteEnd) IsClosed() bool { return w.p.cerrado }

// Capacity es el tamaño del buffer circular.
func (w *WriteEnd) Capacity() int { return len(w.p.buf) }
