package hal

import (
	"context"
	"sync/atomic"
	"time"
)

// Timer es la fuente de ticks de baja resolucion.
type Timer interface {
	SetCallback(fn func(tick uint32))
	Ticks() uint32
}

// PIT es el timer programable, cableado a la IRQ 0 de la maquina.
type PIT struct {
	machine  *Machine
	ticks    atomic.Uint32
	callback func(tick uint32)
}

func NewPIT(m *Machine) *PIT {
	pit := &PIT{machine: m}
	m.RegisterHandler(IRQTimer, pit.handle)
	return pit
}

// SetCallback registra la rutina que se llama en cada tick. Debe llamarse
// desde la CPU, antes de que empiecen a llegar ticks.
func (p *PIT) SetCallback(fn func(tick uint32)) {
	p.callback = fn
}

func (p *PIT) Ticks() uint32 {
	return p.ticks.Load()
}

// Tick levanta una interrupcion de timer.
func (p *PIT) Tick() {
	p.machine.Raise(IRQTimer)
}

// Start genera un tick cada intervalo hasta que se cancele ctx.
func (p *PIT) Start(ctx context.Context, intervalo time.Duration) {
	go func() {
		ticker := time.NewTicker(intervalo)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Tick()
			}
		}
	}()
}

func (p *PIT) handle(int) {
	tick := p.ticks.Add(1)
	if p.callback != nil {
		p.callback(tick)
	}
}
