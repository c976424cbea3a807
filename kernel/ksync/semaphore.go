package ksync

import (
	"fmt"

	"azzaros/kernel/process"
	"azzaros/kernel/spinlock"
	"azzaros/utils/logueador"
	"azzaros/utils/structs"
)

// Semaphore es un semaforo contador. Signal con procesos esperando le pasa la
// unidad directo al primero sin tocar el contador, asi que
// valor final = inicial + signals - waits completados.
type Semaphore struct {
	k         Kernel
	guard     spinlock.Spinlock
	count     int
	destroyed bool
	waiters   structs.WaitQueue[*espera]
}

func NewSemaphore(k Kernel, initial int) (*Semaphore, error) {
	if initial < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegative, initial)
	}
	s := &Semaphore{k: k, count: initial}
	s.guard.Init(k.Platform())
	s.waiters.Init(4)
	return s, nil
}

func (s *Semaphore) Wait() error {
	cur := s.k.Current()
	if cur == nil {
		return ErrNoProcess
	}
	e := &espera{p: cur}

	s.guard.MustAcquire()
	if s.destroyed {
		s.guard.MustRelease()
		return ErrDestroyed
	}
	if s.count > 0 {
		s.count--
		s.guard.MustRelease()
		return nil
	}
	s.waiters.Enqueue(e)
	cur.PrepareWait()
	s.guard.MustRelease()
	logueador.MotivoDeBloqueo(cur.ID, "SEMAFORO")

	dormir(s.k, e)
	if e.destruido {
		return ErrDestroyed
	}
	return nil
}

// TryWait descuenta solo si hay unidades disponibles.
func (s *Semaphore) TryWait() bool {
	s.guard.MustAcquire()
	defer s.guard.MustRelease()

	if s.destroyed || s.count == 0 {
		return false
	}
	s.count--
	return true
}

func (s *Semaphore) Signal() {
	flags := s.k.Platform().DisableInterrupts()
	defer s.k.Platform().RestoreInterrupts(flags)

	s.guard.MustAcquire()
	if s.destroyed {
		s.guard.MustRelease()
		return
	}
	e, ok := s.waiters.Dequeue()
	if !ok {
		s.count++
		s.guard.MustRelease()
		return
	}
	p := marcar(e, false)
	s.guard.MustRelease()

	despertar(s.k, p)
}

// Destroy despierta a todos los que esperan; su Wait devuelve ErrDestroyed.
func (s *Semaphore) Destroy() {
	flags := s.k.Platform().DisableInterrupts()
	defer s.k.Platform().RestoreInterrupts(flags)

	var despiertos []*process.PCB
	s.guard.MustAcquire()
	s.destroyed = true
	s.waiters.Drain(func(e *espera) {
		despiertos = append(despiertos, marcar(e, true))
	})
	s.guard.MustRelease()

	despertar(s.k, despiertos...)
}

func (s *Semaphore) Value() int {
	return s.count
}

func (s *Semaphore) Waiters() int {
	return s.waiters.Len()
}
