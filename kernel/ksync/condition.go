package ksync

import (
	"azzaros/kernel/process"
	"azzaros/kernel/spinlock"
	"azzaros/utils/logueador"
	"azzaros/utils/structs"
)

// Cond es una variable de condicion atada a un Mutex en cada Wait. Se puede
// hacer Signal sin tener el mutex, pero entonces el que espera puede
// perderse el cambio de estado que motivo la señal.
type Cond struct {
	k         Kernel
	guard     spinlock.Spinlock
	destroyed bool
	waiters   structs.WaitQueue[*espera]
}

func NewCond(k Kernel) *Cond {
	c := &Cond{k: k}
	c.guard.Init(k.Platform())
	c.waiters.Init(4)
	return c
}

// Wait libera m y duerme en un solo paso respecto de Signal: encolarse y
// soltar el mutex pasan con el spinlock de la condicion tomado. Al volver el
// mutex esta tomado otra vez, aun si la condicion fue destruida.
func (c *Cond) Wait(m *Mutex) error {
	cur := c.k.Current()
	if cur == nil {
		return ErrNoProcess
	}
	if m.Owner() != cur {
		logueador.ViolacionDeProtocolo("condicion", ErrNotOwner)
		return ErrNotOwner
	}
	e := &espera{p: cur}

	flags := c.k.Platform().DisableInterrupts()
	c.guard.MustAcquire()
	if c.destroyed {
		c.guard.MustRelease()
		c.k.Platform().RestoreInterrupts(flags)
		return ErrDestroyed
	}
	slot := c.waiters.Enqueue(e)
	cur.PrepareWait()
	siguiente, err := m.soltar(cur)
	if err != nil {
		c.waiters.Remove(slot)
		cur.FinishWait()
		c.guard.MustRelease()
		c.k.Platform().RestoreInterrupts(flags)
		return err
	}
	c.guard.MustRelease()

	logueador.MotivoDeBloqueo(cur.ID, "CONDICION")
	if siguiente != nil {
		c.k.Wake(siguiente)
	}
	c.k.Platform().RestoreInterrupts(flags)

	dormir(c.k, e)

	if err := m.Lock(); err != nil {
		return err
	}
	if e.destruido {
		return ErrDestroyed
	}
	return nil
}

// Signal despierta al primero que espera, si hay alguno.
func (c *Cond) Signal() {
	flags := c.k.Platform().DisableInterrupts()
	defer c.k.Platform().RestoreInterrupts(flags)

	c.guard.MustAcquire()
	e, ok := c.waiters.Dequeue()
	if !ok {
		c.guard.MustRelease()
		return
	}
	p := marcar(e, false)
	c.guard.MustRelease()

	despertar(c.k, p)
}

func (c *Cond) Broadcast() {
	c.despertarTodos(false)
}

// Destroy despierta a todos; sus Wait devuelven ErrDestroyed con el mutex
// retomado.
func (c *Cond) Destroy() {
	c.despertarTodos(true)
}

func (c *Cond) despertarTodos(destruir bool) {
	flags := c.k.Platform().DisableInterrupts()
	defer c.k.Platform().RestoreInterrupts(flags)

	var despiertos []*process.PCB
	c.guard.MustAcquire()
	if destruir {
		c.destroyed = true
	}
	c.waiters.Drain(func(e *espera) {
		despiertos = append(despiertos, marcar(e, destruir))
	})
	c.guard.MustRelease()

	despertar(c.k, despiertos...)
}

func (c *Cond) HasWaiters() bool {
	return !c.waiters.Empty()
}

// Destroyed indica si ya se llamo a Destroy.
func (c *Cond) Destroyed() bool {
	return c.destroyed
}
