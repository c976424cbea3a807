// Package ipc son los canales entre procesos construidos sobre ksync: la cola
// de mensajes acotada y el pipe de bytes.
package ipc

import (
	"errors"
	"fmt"

	"azzaros/kernel/ksync"
)

// Limites duros de la cola de mensajes
const (
	MaxMessages    = 64
	MaxMessageSize = 1024
)

var (
	ErrInvalidSize    = errors.New("ipc: tamaño invalido")
	ErrClosed         = errors.New("ipc: canal cerrado")
	ErrFull           = errors.New("ipc: cola llena")
	ErrEmpty          = errors.New("ipc: cola vacia")
	ErrBufferTooSmall = errors.New("ipc: buffer demasiado chico")
)

// BufferTooSmallError dice cuanto hace falta para recibir el mensaje. El
// mensaje queda en la cola.
type BufferTooSmallError struct {
	Required int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("%v: el mensaje ocupa %d bytes", ErrBufferTooSmall, e.Required)
}

func (e *BufferTooSmallError) Unwrap() error {
	return ErrBufferTooSmall
}

// bajoLock corre fn con m tomado. Desde el contexto de booteo no hay proceso
// que pueda ser duenio y la CPU ya es exclusiva, asi que corre sin el lock.
func bajoLock(m *ksync.Mutex, fn func()) error {
	err := m.Lock()
	switch {
	case err == nil:
		defer m.Unlock()
	case errors.Is(err, ksync.ErrNoProcess):
	default:
		return err
	}
	fn()
	return nil
}
