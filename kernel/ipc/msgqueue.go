package ipc

import (
	"fmt"

	"azzaros/kernel/hal"
	"azzaros/kernel/ksync"
)

// MessageQueue es una cola FIFO acotada de mensajes de largo variable. Cada
// mensaje se copia a un buffer del heap del kernel.
type MessageQueue struct {
	heap    hal.Allocator
	mu      *ksync.Mutex
	noLlena *ksync.Cond
	noVacia *ksync.Cond

	mensajes    [][]byte
	maxMensajes int
	maxTamanio  int
	cerrada     bool
}

func NewMessageQueue(k ksync.Kernel, heap hal.Allocator, maxMessages, maxSize int) (*MessageQueue, error) {
	if maxMessages <= 0 || maxMessages > MaxMessages {
		return nil, fmt.Errorf("%w: %d mensajes (limite %d)", ErrInvalidSize, maxMessages, MaxMessages)
	}
	if maxSize <= 0 || maxSize > MaxMessageSize {
		return nil, fmt.Errorf("%w: mensajes de %d bytes (limite %d)", ErrInvalidSize, maxSize, MaxMessageSize)
	}
	return &MessageQueue{
		heap:        heap,
		mu:          ksync.NewMutex(k),
		noLlena:     ksync.NewCond(k),
		noVacia:     ksync.NewCond(k),
		mensajes:    make([][]byte, 0, maxMessages),
		maxMensajes: maxMessages,
		maxTamanio:  maxSize,
	}, nil
}

// Send encola una copia de data. Bloquea mientras la cola este llena.
func (q *MessageQueue) Send(data []byte) error {
	if err := q.validar(data); err != nil {
		return err
	}
	if err := q.mu.Lock(); err != nil {
		return err
	}
	defer q.mu.Unlock()

	for len(q.mensajes) >= q.maxMensajes && !q.cerrada {
		if err := q.noLlena.Wait(q.mu); err != nil {
			return err
		}
	}
	return q.encolar(data)
}

// TrySend es Send sin bloquear: con la cola llena devuelve ErrFull.
func (q *MessageQueue) TrySend(data []byte) error {
	if err := q.validar(data); err != nil {
		return err
	}
	if err := q.mu.Lock(); err != nil {
		return err
	}
	defer q.mu.Unlock()

	if !q.cerrada && len(q.mensajes) >= q.maxMensajes {
		return ErrFull
	}
	return q.encolar(data)
}

func (q *MessageQueue) validar(data []byte) error {
	if len(data) == 0 || len(data) > q.maxTamanio {
		return fmt.Errorf("%w: %d bytes (maximo %d)", ErrInvalidSize, len(data), q.maxTamanio)
	}
	return nil
}

// encolar corre con q.mu tomado.
func (q *MessageQueue) encolar(data []byte) error {
	if q.cerrada {
		return ErrClosed
	}
	buf, err := q.heap.Alloc(len(data))
	if err != nil {
		return fmt.Errorf("no se pudo copiar el mensaje: %w", err)
	}
	copy(buf, data)
	q.mensajes = append(q.mensajes, buf)
	q.noVacia.Signal()
	return nil
}

// Receive copia el primer mensaje en buf y devuelve su largo. Bloquea con la
// cola vacia. Cerrada, sigue entregando lo que quedo y recien despues falla
// con ErrClosed. Si buf no alcanza el mensaje no se consume.
func (q *MessageQueue) Receive(buf []byte) (int, error) {
	if err := q.mu.Lock(); err != nil {
		return 0, err
	}
	defer q.mu.Unlock()

	for len(q.mensajes) == 0 && !q.cerrada {
		if err := q.noVacia.Wait(q.mu); err != nil {
			return 0, err
		}
	}
	return q.desencolar(buf)
}

// TryReceive es Receive sin bloquear: con la cola vacia devuelve ErrEmpty.
func (q *MessageQueue) TryReceive(buf []byte) (int, error) {
	if err := q.mu.Lock(); err != nil {
		return 0, err
	}
	defer q.mu.Unlock()

	if len(q.mensajes) == 0 && !q.cerrada {
		return 0, ErrEmpty
	}
	return q.desencolar(buf)
}

// desencolar corre con q.mu tomado.
func (q *MessageQueue) desencolar(buf []byte) (int, error) {
	if len(q.mensajes) == 0 {
		return 0, ErrClosed
	}
	msg := q.mensajes[0]
	if len(buf) < len(msg) {
		return 0, &BufferTooSmallError{Required: len(msg)}
	}

	n := copy(buf, msg)
	q.mensajes[0] = nil
	q.mensajes = q.mensajes[1:]
	q.heap.Free(msg)
	q.noLlena.Signal()
	return n, nil
}

// Close no acepta mas mensajes y despierta a todos los que esperan.
func (q *MessageQueue) Close() error {
	return bajoLock(q.mu, func() {
		q.cerrada = true
		q.noLlena.Broadcast()
		q.noVacia.Broadcast()
	})
}

// Destroy cierra la cola, devuelve al heap los mensajes que quedaban y
// destruye las condiciones. Los que esperaban salen con ErrClosed.
func (q *MessageQueue) Destroy() error {
	return bajoLock(q.mu, func() {
		q.cerrada = true
		for _, msg := range q.mensajes {
			q.heap.Free(msg)
		}
		q.mensajes = nil
		q.noLlena.Broadcast()
		q.noVacia.Broadcast()
		q.noLlena.Destroy()
		q.noVacia.Destroy()
	})
}

func (q *MessageQueue) Count() int {
	n := 0
	_ = bajoLock(q.mu, func() { n = len(q.mensajes) })
	return n
}

func (q *MessageQueue) IsFull() bool {
	return q.Count() >= q.maxMensajes
}

func (q *MessageQueue) IsEmpty() bool {
	return q.Count() == 0
}

func (q *MessageQueue) IsClosed() bool {
	cerrada := false
	_ = bajoLock(q.mu, func() { cerrada = q.cerrada })
	return cerrada
}
