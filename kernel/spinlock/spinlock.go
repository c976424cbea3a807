// Package spinlock es la exclusion mutua de mas bajo nivel: test-and-set
// atomico con las interrupciones enmascaradas durante toda la seccion critica.
package spinlock

import (
	"errors"
	"runtime"
	"sync/atomic"

	"azzaros/kernel/hal"
	"azzaros/utils/logueador"
)

const sinDuenio = -1

var (
	ErrRecursive = errors.New("spinlock: adquisicion recursiva en la misma CPU")
	ErrNotOwner  = errors.New("spinlock: liberado por una CPU que no es la duenia")
)

// Spinlock guarda el flag, la CPU duenia y los flags de interrupcion a
// restaurar al liberar. Las secciones criticas tienen que ser O(1): nada de
// bloquear ni alocar adentro.
type Spinlock struct {
	locked   atomic.Uint32
	cpu      atomic.Int32
	flags    hal.Flags
	platform hal.Platform
}

func New(p hal.Platform) *Spinlock {
	l := &Spinlock{}
	l.Init(p)
	return l
}

// Init deja el lock libre.
func (l *Spinlock) Init(p hal.Platform) {
	l.platform = p
	l.locked.Store(0)
	l.cpu.Store(sinDuenio)
	l.flags = 0
}

// Acquire deshabilita interrupciones y gira hasta tomar el lock. Si la CPU
// actual ya lo tiene devuelve ErrRecursive en vez de quedarse colgada.
func (l *Spinlock) Acquire() error {
	flags := l.platform.DisableInterrupts()
	cpu := int32(l.platform.CPUID())

	if l.locked.Load() != 0 && l.cpu.Load() == cpu {
		l.platform.RestoreInterrupts(flags)
		logueador.ViolacionDeProtocolo("spinlock", ErrRecursive)
		return ErrRecursive
	}

	for !l.locked.CompareAndSwap(0, 1) {
		for l.locked.Load() != 0 {
			runtime.Gosched() // pause
		}
	}

	l.cpu.Store(cpu)
	l.flags = flags
	return nil
}

// TryAcquire es la variante que no gira.
func (l *Spinlock) TryAcquire() bool {
	flags := l.platform.DisableInterrupts()
	cpu := int32(l.platform.CPUID())

	if l.locked.Load() != 0 && l.cpu.Load() == cpu {
		l.platform.RestoreInterrupts(flags)
		return false
	}

	if !l.locked.CompareAndSwap(0, 1) {
		l.platform.RestoreInterrupts(flags)
		return false
	}

	l.cpu.Store(cpu)
	l.flags = flags
	return true
}

// Release verifica que lo libere la CPU duenia y restaura los flags que se
// guardaron al tomarlo.
func (l *Spinlock) Release() error {
	if l.locked.Load() == 0 || l.cpu.Load() != int32(l.platform.CPUID()) {
		logueador.ViolacionDeProtocolo("spinlock", ErrNotOwner)
		return ErrNotOwner
	}

	flags := l.flags
	l.cpu.Store(sinDuenio)
	l.locked.Store(0)
	l.platform.RestoreInterrupts(flags)
	return nil
}

// MustAcquire es para las primitivas del kernel, que nunca anidan el mismo
// spinlock. Un error aca es corrupcion de invariantes y frena el kernel.
func (l *Spinlock) MustAcquire() {
	if err := l.Acquire(); err != nil {
		panic(err)
	}
}

// MustRelease es el par de MustAcquire.
func (l *Spinlock) MustRelease() {
	if err := l.Release(); err != nil {
		panic(err)
	}
}

func (l *Spinlock) IsLocked() bool {
	return l.locked.Load() != 0
}

// Owner devuelve la CPU duenia o -1 si esta libre.
func (l *Spinlock) Owner() int {
	return int(l.cpu.Load())
}
