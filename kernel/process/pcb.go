package process

import (
	"azzaros/utils/structs"
)

// NombreMax es el largo maximo del nombre de un proceso, en bytes.
const NombreMax = 32

type State int

const (
	Ready State = iota
	Running
	Blocked
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return structs.EstadoReady
	case Running:
		return structs.EstadoRunning
	case Blocked:
		return structs.EstadoBlocked
	case Terminated:
		return structs.EstadoTerminated
	default:
		return "UNKNOWN"
	}
}

// Context es el bloque de registros guardado. Para el nucleo es opaco.
type Context struct {
	SP    uintptr
	BP    uintptr
	Entry uintptr
}

// PCB es el bloque de control de un proceso.
type PCB struct {
	ID      uint32
	Name    string
	State   State
	Context Context
	Stack   []byte

	Priority uint8
	Quantum  uint32
	Runtime  uint32
	LastRun  uint32

	MetricasConteo map[string]int
	MetricasTiempo map[string]uint32
	estadoDesde    uint32

	entry   func()
	record  []byte
	slot    int
	resume  chan struct{}
	started bool
	killed  bool

	// Protocolo de espera: wakeup queda en true si alguien lo desperto antes
	// de que llegara a bloquearse; waitRefs cuenta las listas de espera que lo
	// referencian.
	wakeup   bool
	waitRefs int

	retenidos []Retenido
}

// Retenido es algo que el proceso tiene tomado (un mutex) y que hay que
// soltar si termina sin devolverlo.
type Retenido interface {
	Abandonar(p *PCB)
}

// PrepareWait se llama al encolarlo en una lista de espera, con el lock de la
// lista tomado.
func (p *PCB) PrepareWait() {
	p.wakeup = false
	p.waitRefs++
}

// FinishWait se llama al sacarlo de una lista de espera.
func (p *PCB) FinishWait() {
	if p.waitRefs > 0 {
		p.waitRefs--
	}
}

// WaitRefs devuelve cuantas listas de espera lo referencian.
func (p *PCB) WaitRefs() int {
	return p.waitRefs
}

// WakeupPending indica si ya lo despertaron.
func (p *PCB) WakeupPending() bool {
	return p.wakeup
}

// SetWakeup marca (o limpia) el despertar pendiente.
func (p *PCB) SetWakeup(v bool) {
	p.wakeup = v
}

// Retener anota que el proceso tomo r.
func (p *PCB) Retener(r Retenido) {
	p.retenidos = append(p.retenidos, r)
}

// Soltar borra la ultima anotacion de r.
func (p *PCB) Soltar(r Retenido) {
	for i := len(p.retenidos) - 1; i >= 0; i-- {
		if p.retenidos[i] == r {
			p.retenidos = append(p.retenidos[:i], p.retenidos[i+1:]...)
			return
		}
	}
}

// Retenidos cuenta lo que el proceso tiene tomado.
func (p *PCB) Retenidos() int {
	return len(p.retenidos)
}

// AbandonarRetenidos suelta, del ultimo al primero, todo lo que el proceso
// tenia tomado. Devuelve cuantos eran.
func (p *PCB) AbandonarRetenidos() int {
	retenidos := p.retenidos
	p.retenidos = nil
	for i := len(retenidos) - 1; i >= 0; i-- {
		retenidos[i].Abandonar(p)
	}
	return len(retenidos)
}

// Killed indica que se pidio terminarlo y va a salir la proxima vez que corra.
func (p *PCB) Killed() bool {
	return p.killed
}

// MarkKilled pide que el proceso termine la proxima vez que tenga la CPU.
func (p *PCB) MarkKilled() {
	p.killed = true
}

// Resumen es la vista que expone la API.
func (p *PCB) Resumen() structs.ResumenProceso {
	conteo := make(map[string]int, len(p.MetricasConteo))
	for k, v := range p.MetricasConteo {
		conteo[k] = v
	}
	tiempo := make(map[string]uint32, len(p.MetricasTiempo))
	for k, v := range p.MetricasTiempo {
		tiempo[k] = v
	}
	return structs.ResumenProceso{
		PID:            p.ID,
		Nombre:         p.Name,
		Estado:         p.State.String(),
		Prioridad:      p.Priority,
		Quantum:        p.Quantum,
		Runtime:        p.Runtime,
		MetricasConteo: conteo,
		MetricasTiempo: tiempo,
	}
}

func nuevasMetricas() (map[string]int, map[string]uint32) {
	conteo := map[string]int{
		structs.EstadoReady:      0,
		structs.EstadoRunning:    0,
		structs.EstadoBlocked:    0,
		structs.EstadoTerminated: 0,
	}
	tiempo := map[string]uint32{
		structs.EstadoReady:      0,
		structs.EstadoRunning:    0,
		structs.EstadoBlocked:    0,
		structs.EstadoTerminated: 0,
	}
	return conteo, tiempo
}
