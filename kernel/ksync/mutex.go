package ksync

import (
	"fmt"
	"sync/atomic"

	"azzaros/kernel/process"
	"azzaros/kernel/spinlock"
	"azzaros/utils/logueador"
	"azzaros/utils/structs"
)

// Mutex es un lock que duerme al que espera. Los que esperan quedan en orden
// FIFO; Unlock despierta al primero, que vuelve a intentar el CAS.
type Mutex struct {
	k       Kernel
	guard   spinlock.Spinlock
	state   atomic.Uint32
	owner   *process.PCB
	waiters structs.WaitQueue[*process.PCB]
}

func NewMutex(k Kernel) *Mutex {
	m := &Mutex{k: k}
	m.guard.Init(k.Platform())
	m.waiters.Init(4)
	return m
}

func (m *Mutex) Lock() error {
	cur := m.k.Current()
	if cur == nil {
		return ErrNoProcess
	}

	slot := int32(-1)
	for {
		m.guard.MustAcquire()

		if m.state.CompareAndSwap(0, 1) {
			m.owner = cur
			cur.Retener(m)
			if slot >= 0 {
				m.waiters.Remove(slot)
				cur.FinishWait()
				cur.SetWakeup(false)
			}
			m.guard.MustRelease()
			return nil
		}

		if m.owner == cur {
			m.guard.MustRelease()
			logueador.ViolacionDeProtocolo("mutex", ErrDeadlock)
			return fmt.Errorf("%w: pid %d", ErrDeadlock, cur.ID)
		}

		encolado := slot < 0
		if encolado {
			slot = m.waiters.Enqueue(cur)
			cur.PrepareWait()
		}
		m.guard.MustRelease()

		if encolado {
			logueador.MotivoDeBloqueo(cur.ID, "MUTEX")
		}
		m.k.Park(cur)
	}
}

// TryLock no bloquea. Tampoco le gana el lugar a los que ya estan esperando
// si el mutex esta tomado.
func (m *Mutex) TryLock() bool {
	cur := m.k.Current()
	if cur == nil {
		return false
	}
	m.guard.MustAcquire()
	defer m.guard.MustRelease()

	if !m.state.CompareAndSwap(0, 1) {
		return false
	}
	m.owner = cur
	cur.Retener(m)
	return true
}

func (m *Mutex) Unlock() error {
	cur := m.k.Current()
	flags := m.k.Platform().DisableInterrupts()
	defer m.k.Platform().RestoreInterrupts(flags)

	siguiente, err := m.soltar(cur)
	if err != nil {
		logueador.ViolacionDeProtocolo("mutex", err)
		return err
	}
	if siguiente != nil {
		m.k.Wake(siguiente)
	}
	return nil
}

// soltar libera el mutex si cur es el duenio y devuelve al primero que
// espera, que el llamador tiene que despertar.
func (m *Mutex) soltar(cur *process.PCB) (*process.PCB, error) {
	m.guard.MustAcquire()
	defer m.guard.MustRelease()

	if m.state.Load() == 0 || m.owner != cur {
		return nil, ErrNotOwner
	}
	cur.Soltar(m)
	m.owner = nil
	m.state.Store(0)
	siguiente, _ := m.waiters.Peek()
	return siguiente, nil
}

// Abandonar libera el mutex de un proceso que termina con el tomado.
func (m *Mutex) Abandonar(p *process.PCB) {
	flags := m.k.Platform().DisableInterrupts()
	defer m.k.Platform().RestoreInterrupts(flags)

	m.guard.MustAcquire()
	if m.owner != p {
		m.guard.MustRelease()
		return
	}
	m.owner = nil
	m.state.Store(0)
	siguiente, _ := m.waiters.Peek()
	m.guard.MustRelease()

	logueador.ViolacionDeProtocolo("mutex", fmt.Errorf("%w: pid %d", ErrAbandoned, p.ID))
	if siguiente != nil {
		m.k.Wake(siguiente)
	}
}

func (m *Mutex) IsLocked() bool {
	return m.state.Load() != 0
}

// Owner devuelve el proceso duenio, o nil si esta libre.
func (m *Mutex) Owner() *process.PCB {
	return m.owner
}

// Waiters cuenta los procesos dormidos esperando el mutex.
func (m *Mutex) Waiters() int {
	return m.waiters.Len()
}
