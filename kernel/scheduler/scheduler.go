// Package scheduler decide que tarea corre. Mantiene la lista de tareas
// ordenada por prioridad descendente, cuenta el quantum en cada tick y
// ofrece el protocolo de bloqueo (Park/Wake) que usan las primitivas.
package scheduler

import (
	"errors"
	"fmt"

	"azzaros/kernel/hal"
	"azzaros/kernel/process"
	"azzaros/utils/config"
	"azzaros/utils/logueador"
	"azzaros/utils/structs"
)

const PrioridadIdle uint8 = 0

var (
	ErrTaskTableFull = errors.New("scheduler: tabla de tareas llena")
	ErrDuplicateTask = errors.New("scheduler: la tarea ya esta planificada")
	ErrUnknownTask   = errors.New("scheduler: tarea inexistente")
	ErrNotStarted    = errors.New("scheduler: no inicializado")
)

// ProcessTable es lo que el planificador necesita de la tabla de procesos.
type ProcessTable interface {
	Create(name string, entry func()) (*process.PCB, error)
	SwitchTo(next *process.PCB) error
	SetState(p *process.PCB, s process.State)
	Current() *process.PCB
}

// CPU es la plataforma mas la instruccion hlt que usa la tarea idle.
type CPU interface {
	hal.Platform
	Halt()
	Pending() int
}

type Config struct {
	Algorithm string
	Quantum   uint32
	MaxTasks  int
}

type task struct {
	pcb      *process.PCB
	priority uint8
	running  bool
}

type Scheduler struct {
	procs ProcessTable
	timer hal.Timer
	cpu   CPU
	cfg   Config

	tasks   []*task
	idle    *task
	current *task

	quantum       uint32
	totalSwitches uint32
	cursor        map[uint8]int

	// onIdle se llama desde la tarea idle cuando no hay nada listo ni IRQs
	// pendientes. Devuelve true si le presto la CPU a alguien y ya la recupero.
	onIdle func() bool
}

func New(procs ProcessTable, timer hal.Timer, cpu CPU, cfg Config) *Scheduler {
	if cfg.Algorithm == "" {
		cfg.Algorithm = config.AlgoritmoPrimerListo
	}
	return &Scheduler{
		procs:  procs,
		timer:  timer,
		cpu:    cpu,
		cfg:    cfg,
		cursor: make(map[uint8]int),
	}
}

// Init crea la tarea idle y engancha el tick del timer. La idle no esta en la
// lista de tareas: es lo que corre cuando nadie mas puede.
func (s *Scheduler) Init() error {
	s.tasks = s.tasks[:0]
	s.current = nil
	s.quantum = s.cfg.Quantum
	s.totalSwitches = 0

	pcb, err := s.procs.Create("idle", s.idleLoop)
	if err != nil {
		return fmt.Errorf("no se pudo crear la tarea idle: %w", err)
	}
	pcb.Priority = PrioridadIdle
	s.idle = &task{pcb: pcb, priority: PrioridadIdle}

	s.timer.SetCallback(s.TimerTick)
	return nil
}

// SetIdleHook registra la rutina que corre la idle al quedar el sistema quieto.
func (s *Scheduler) SetIdleHook(fn func() bool) {
	s.onIdle = fn
}

func (s *Scheduler) idleLoop() {
	for {
		if s.HasReady() {
			s.Yield()
			continue
		}
		if s.onIdle != nil && s.cpu.Pending() == 0 && s.onIdle() {
			continue
		}
		s.cpu.Halt()
	}
}

// AddTask inserta la tarea manteniendo el orden por prioridad descendente.
// Entre iguales queda despues de las que ya estaban.
func (s *Scheduler) AddTask(p *process.PCB, priority uint8) error {
	if p == nil {
		return ErrUnknownTask
	}
	if s.buscar(p) >= 0 || (s.idle != nil && s.idle.pcb == p) {
		return fmt.Errorf("%w: pid %d", ErrDuplicateTask, p.ID)
	}
	if len(s.tasks) >= s.cfg.MaxTasks {
		return fmt.Errorf("%w: %d tareas", ErrTaskTableFull, len(s.tasks))
	}

	p.Priority = priority
	s.tasks = append(s.tasks, &task{pcb: p, priority: priority})
	for i := len(s.tasks) - 1; i > 0 && s.tasks[i].priority > s.tasks[i-1].priority; i-- {
		s.tasks[i], s.tasks[i-1] = s.tasks[i-1], s.tasks[i]
	}

	logueador.Debug("## (%d) planificado con prioridad %d", p.ID, priority)
	return nil
}

// RemoveTask lo saca de la lista. Si era la tarea actual, deja al planificador
// sin tarea actual: el que llama tiene que cambiar de contexto enseguida.
func (s *Scheduler) RemoveTask(p *process.PCB) error {
	i := s.buscar(p)
	if i < 0 {
		return ErrUnknownTask
	}
	t := s.tasks[i]
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)

	if s.current == t {
		s.contabilizar(t)
		s.current = nil
	}
	return nil
}

func (s *Scheduler) buscar(p *process.PCB) int {
	for i, t := range s.tasks {
		if t.pcb == p {
			return i
		}
	}
	return -1
}

// Start arranca la primera tarea desde el contexto de booteo. Despues de
// llamarlo el que llama ya no tiene la CPU.
func (s *Scheduler) Start() error {
	if s.idle == nil {
		return ErrNotStarted
	}
	s.cpu.DisableInterrupts()
	s.SwitchTask()
	return nil
}

// SwitchTask elige la proxima tarea y le pasa la CPU. Si no habia tarea actual
// (booteo o una tarea que termino) la goroutine que llama pierde la CPU para
// siempre y no toca nada mas al volver.
func (s *Scheduler) SwitchTask() {
	flags := s.cpu.DisableInterrupts()

	prev := s.current
	if prev != nil {
		s.contabilizar(prev)
		prev.running = false
		if prev.pcb.State == process.Running {
			s.procs.SetState(prev.pcb, process.Ready)
		}
	}

	next := s.elegir()
	next.running = true
	s.procs.SetState(next.pcb, process.Running)
	next.pcb.LastRun = s.timer.Ticks()
	s.quantum = s.cfg.Quantum
	next.pcb.Quantum = s.quantum
	s.current = next

	// cuenta toda eleccion, aunque vuelva a salir la misma tarea
	s.totalSwitches++
	if prev != nil && prev != next {
		logueador.CambioDeContexto(prev.pcb.ID, next.pcb.ID, s.timer.Ticks())
	}

	if err := s.procs.SwitchTo(next.pcb); err != nil {
		logueador.Error("## No se pudo cambiar al proceso %d: %v", next.pcb.ID, err)
	}
	if prev == nil {
		return
	}
	s.cpu.RestoreInterrupts(flags)
}

func (s *Scheduler) contabilizar(t *task) {
	ahora := s.timer.Ticks()
	if ahora > t.pcb.LastRun {
		t.pcb.Runtime += ahora - t.pcb.LastRun
	}
	t.pcb.LastRun = ahora
}

func (s *Scheduler) elegible(t *task) bool {
	return !t.running && t.pcb.State == process.Ready
}

func (s *Scheduler) elegir() *task {
	if s.cfg.Algorithm == config.AlgoritmoRoundRobin {
		return s.elegirRoundRobin()
	}
	return s.elegirPrimerListo()
}

// elegirPrimerListo recorre desde el frente: la primera lista que no este
// corriendo. Las bloqueadas nunca se eligen.
func (s *Scheduler) elegirPrimerListo() *task {
	for _, t := range s.tasks {
		if s.elegible(t) {
			return t
		}
	}
	return s.idle
}

// elegirRoundRobin toma la banda de mayor prioridad con alguna tarea lista y
// rota dentro de ella con un cursor por prioridad.
func (s *Scheduler) elegirRoundRobin() *task {
	for i := 0; i < len(s.tasks); {
		prioridad := s.tasks[i].priority
		j := i
		for j < len(s.tasks) && s.tasks[j].priority == prioridad {
			j++
		}
		banda := s.tasks[i:j]
		inicio := s.cursor[prioridad] % len(banda)
		for k := 0; k < len(banda); k++ {
			idx := (inicio + k) % len(banda)
			if s.elegible(banda[idx]) {
				s.cursor[prioridad] = (idx + 1) % len(banda)
				return banda[idx]
			}
		}
		i = j
	}
	return s.idle
}

// TimerTick corre en la rutina de la IRQ del timer.
func (s *Scheduler) TimerTick(tick uint32) {
	if s.current == nil {
		return
	}
	if s.quantum > 0 {
		s.quantum--
		s.current.pcb.Quantum = s.quantum
	}
	if s.quantum == 0 {
		logueador.Debug("## (%d) - Desalojado por fin de quantum en el tick %d", s.current.pcb.ID, tick)
		s.SwitchTask()
	}
}

// Yield cede la CPU voluntariamente.
func (s *Scheduler) Yield() {
	flags := s.cpu.DisableInterrupts()
	s.SwitchTask()
	s.cpu.RestoreInterrupts(flags)
}

// Park bloquea a p (que tiene que ser la tarea actual) salvo que ya lo hayan
// despertado. El chequeo y el bloqueo van con interrupciones deshabilitadas,
// asi que un Wake nunca se pierde entre encolarse y dormirse.
func (s *Scheduler) Park(p *process.PCB) {
	flags := s.cpu.DisableInterrupts()
	if !p.WakeupPending() {
		s.procs.SetState(p, process.Blocked)
		s.SwitchTask()
	}
	p.SetWakeup(false)
	s.cpu.RestoreInterrupts(flags)
}

// Wake marca a p como despertado y, si estaba bloqueado, lo vuelve a listo.
// No cambia de contexto.
func (s *Scheduler) Wake(p *process.PCB) {
	flags := s.cpu.DisableInterrupts()
	p.SetWakeup(true)
	if p.State == process.Blocked {
		s.procs.SetState(p, process.Ready)
	}
	s.cpu.RestoreInterrupts(flags)
}

// HasReady indica si alguna tarea (sin contar la idle) puede correr.
func (s *Scheduler) HasReady() bool {
	for _, t := range s.tasks {
		if s.elegible(t) {
			return true
		}
	}
	return false
}

// Current devuelve el PCB de la tarea actual, o nil antes de arrancar.
func (s *Scheduler) Current() *process.PCB {
	if s.current == nil {
		return nil
	}
	return s.current.pcb
}

func (s *Scheduler) Idle() *process.PCB {
	if s.idle == nil {
		return nil
	}
	return s.idle.pcb
}

// TaskCount cuenta las tareas planificadas, sin la idle.
func (s *Scheduler) TaskCount() int {
	return len(s.tasks)
}

func (s *Scheduler) TotalSwitches() uint32 {
	return s.totalSwitches
}

func (s *Scheduler) Stats() structs.ResumenPlanificador {
	r := structs.ResumenPlanificador{
		Algoritmo:     s.cfg.Algorithm,
		Tareas:        make([]uint32, 0, len(s.tasks)),
		TotalCambios:  s.totalSwitches,
		Ticks:         s.timer.Ticks(),
		QuantumActual: s.quantum,
	}
	if s.current != nil {
		r.Actual = s.current.pcb.ID
	}
	for _, t := range s.tasks {
		r.Tareas = append(r.Tareas, t.pcb.ID)
	}
	return r
}
