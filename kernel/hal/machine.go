// Package hal simula el hardware que el nucleo consume: un uniprocesador con
// flag de interrupciones, controlador de IRQs, timer y heap.
package hal

import (
	"sync"
	"sync/atomic"
)

// Flags es el registro EFLAGS guardado. Solo importa el bit IF.
type Flags uint32

const FlagIF Flags = 0x200

// IRQs conocidas
const (
	IRQTimer   = 0
	IRQTeclado = 1
	IRQConsola = 4
	MaxIRQ     = 16
	cpuUnicaID = 0
)

// Platform es lo minimo que necesitan los locks: enmascarar interrupciones e
// identificar la CPU.
type Platform interface {
	DisableInterrupts() Flags
	RestoreInterrupts(Flags)
	InterruptsEnabled() bool
	CPUID() int
}

// Machine es un uniprocesador simulado. El flag de interrupciones es estado de
// la CPU y solo lo toca quien la tiene; las IRQs pendientes pueden levantarse
// desde cualquier goroutine.
type Machine struct {
	intrEnabled bool
	handlers    [MaxIRQ]func(irq int)

	mu      sync.Mutex
	pending []int
	notify  chan struct{}

	delivered atomic.Uint64
}

func NewMachine() *Machine {
	return &Machine{
		intrEnabled: true,
		notify:      make(chan struct{}, 1),
	}
}

func (m *Machine) CPUID() int {
	return cpuUnicaID
}

func (m *Machine) InterruptsEnabled() bool {
	return m.intrEnabled
}

// DisableInterrupts es cli: devuelve los flags previos.
func (m *Machine) DisableInterrupts() Flags {
	var prev Flags
	if m.intrEnabled {
		prev = FlagIF
	}
	m.intrEnabled = false
	return prev
}

// RestoreInterrupts vuelve a los flags guardados. Si quedan habilitadas se
// atienden las IRQs pendientes en este mismo punto.
func (m *Machine) RestoreInterrupts(f Flags) {
	m.intrEnabled = f&FlagIF != 0
	if m.intrEnabled {
		m.deliver()
	}
}

// RegisterHandler instala la rutina de una IRQ.
func (m *Machine) RegisterHandler(irq int, fn func(irq int)) {
	if irq < 0 || irq >= MaxIRQ {
		return
	}
	m.handlers[irq] = fn
}

// Raise levanta una IRQ. Se puede llamar desde cualquier goroutine; la
// rutina corre recien cuando la CPU tenga las interrupciones habilitadas.
func (m *Machine) Raise(irq int) {
	if irq < 0 || irq >= MaxIRQ {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, irq)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Pending devuelve cuantas IRQs esperan ser atendidas.
func (m *Machine) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Acknowledged cuenta los EOI emitidos.
func (m *Machine) Acknowledged() uint64 {
	return m.delivered.Load()
}

// Checkpoint es un punto de preempcion: si las interrupciones estan
// habilitadas se atiende lo pendiente.
func (m *Machine) Checkpoint() {
	if m.intrEnabled {
		m.deliver()
	}
}

// Halt es hlt: habilita interrupciones y duerme hasta atender al menos una.
func (m *Machine) Halt() {
	m.intrEnabled = true
	for {
		if m.deliver() > 0 {
			return
		}
		<-m.notify
	}
}

func (m *Machine) pop() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return 0, false
	}
	irq := m.pending[0]
	m.pending = m.pending[1:]
	return irq, true
}

// deliver corre las rutinas pendientes con interrupciones deshabilitadas. Una
// rutina puede cambiar de contexto; la goroutine interrumpida sigue desde aca
// cuando la vuelvan a elegir.
func (m *Machine) deliver() int {
	atendidas := 0
	for m.intrEnabled {
		irq, ok := m.pop()
		if !ok {
			break
		}
		m.intrEnabled = false
		if h := m.handlers[irq]; h != nil {
			h(irq)
		}
		m.delivered.Add(1)
		m.intrEnabled = true
		atendidas++
	}
	return atendidas
}
