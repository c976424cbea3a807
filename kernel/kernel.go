// Package kernel arma el nucleo completo: maquina simulada, heap, tabla de
// procesos y planificador. Cada Kernel es una instancia independiente.
//
// La goroutine que llama a New es el contexto de booteo y tiene la CPU hasta
// que arranca el planificador con Run o RunUntilIdle. Cuando esas funciones
// retornan la CPU vuelve al contexto de booteo.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"azzaros/kernel/hal"
	"azzaros/kernel/ipc"
	"azzaros/kernel/ksync"
	"azzaros/kernel/process"
	"azzaros/kernel/scheduler"
	"azzaros/utils/config"
	"azzaros/utils/logueador"
	"azzaros/utils/structs"
)

var (
	ErrNotBoot  = errors.New("kernel: solo se puede llamar desde el contexto de booteo")
	ErrIdleTask = errors.New("kernel: la tarea idle no se puede finalizar")
)

type espera int

const (
	sinEspera espera = iota
	esperaOcio
	esperaFin
)

type peticion struct {
	fn    func()
	hecho chan struct{}
}

type Kernel struct {
	cfg     config.ConfigKernel
	machine *hal.Machine
	pit     *hal.PIT
	heap    *hal.Heap
	procs   *process.Table
	sched   *scheduler.Scheduler

	// Traspaso de la CPU entre el contexto de booteo y la tarea idle
	enBoot    bool
	arrancado bool
	espera    espera
	cancelado bool
	bootCh    chan struct{}
	idleCh    chan struct{}

	finalizados []structs.ResumenProceso

	// Pedidos de otras goroutines, atendidos en la IRQ de consola
	pmu        sync.Mutex
	peticiones []peticion
}

func New(cfg config.ConfigKernel) (*Kernel, error) {
	cfg = cfg.Normalizada()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	machine := hal.NewMachine()
	machine.DisableInterrupts() // se habilitan al arrancar la primera tarea
	pit := hal.NewPIT(machine)
	heap := hal.NewHeap(cfg.HeapSize)

	procs := process.NewTable(machine, heap, pit.Ticks, process.Config{
		MaxProcesses: cfg.MaxProcesses,
		StackSize:    cfg.StackSize,
	})
	sched := scheduler.New(procs, pit, machine, scheduler.Config{
		Algorithm: cfg.SchedulerAlgorithm,
		Quantum:   cfg.Quantum,
		MaxTasks:  cfg.MaxTasks,
	})

	k := &Kernel{
		cfg:     cfg,
		machine: machine,
		pit:     pit,
		heap:    heap,
		procs:   procs,
		sched:   sched,
		enBoot:  true,
		bootCh:  make(chan struct{}),
		idleCh:  make(chan struct{}),
	}
	procs.SetExitHook(k.finalizar)
	sched.SetIdleHook(k.ocioso)
	machine.RegisterHandler(hal.IRQConsola, k.atenderPeticiones)

	if err := sched.Init(); err != nil {
		return nil, err
	}

	logueador.Info("Kernel inicializado - Algoritmo: %s, Quantum: %d, Heap: %d bytes",
		cfg.SchedulerAlgorithm, cfg.Quantum, cfg.HeapSize)
	return k, nil
}

// ---------------------------- Procesos ----------------------------//

// Spawn crea un proceso que corre fn y lo planifica con la prioridad dada.
// Cuando fn retorna el proceso termina.
func (k *Kernel) Spawn(nombre string, prioridad uint8, fn func(k *Kernel)) (*process.PCB, error) {
	if fn == nil {
		return nil, process.ErrInvalidEntry
	}
	flags := k.machine.DisableInterrupts()
	defer k.machine.RestoreInterrupts(flags)

	p, err := k.procs.Create(nombre, func() { fn(k) })
	if err != nil {
		return nil, err
	}
	if err := k.sched.AddTask(p, prioridad); err != nil {
		if errDestroy := k.procs.Destroy(p); errDestroy != nil {
			logueador.Error("## (%d) No se pudo deshacer la creacion: %v", p.ID, errDestroy)
		}
		return nil, err
	}
	return p, nil
}

// Exit termina el proceso actual. No retorna.
func (k *Kernel) Exit() {
	if k.Current() == nil {
		return
	}
	runtime.Goexit()
}

// Kill finaliza el proceso pid. Si es el actual equivale a Exit; si no, el
// proceso termina la proxima vez que le toque la CPU. Un proceso dormido en
// alguna primitiva o con un mutex tomado no se puede finalizar.
func (k *Kernel) Kill(pid uint32) error {
	p, ok := k.procs.Lookup(pid)
	if !ok {
		return fmt.Errorf("%w: pid %d", process.ErrUnknownProcess, pid)
	}
	if p == k.sched.Idle() {
		return ErrIdleTask
	}
	if p == k.Current() {
		k.Exit()
		return nil
	}
	if ocupado(p) {
		return fmt.Errorf("%w: pid %d", process.ErrBusy, pid)
	}
	p.MarkKilled()
	logueador.Info("## (%d) - Marcado para finalizar", pid)
	return nil
}

func ocupado(p *process.PCB) bool {
	return p.WaitRefs() > 0 || p.WakeupPending() || p.Retenidos() > 0
}

// finalizar es el hook de salida de la tabla: corre en la goroutine del
// proceso que termina, con la CPU tomada, y la suelta para siempre.
func (k *Kernel) finalizar(p *process.PCB) {
	k.machine.DisableInterrupts()

	if n := p.AbandonarRetenidos(); n > 0 {
		logueador.Warn("## (%d) Termino con %d mutex tomados, se liberan", p.ID, n)
	}
	if err := k.sched.RemoveTask(p); err != nil {
		logueador.Error("## (%d) No estaba planificado al finalizar: %v", p.ID, err)
	}
	if err := k.procs.Destroy(p); err != nil {
		logueador.Error("## (%d) No se pudo destruir: %v", p.ID, err)
	}

	logueador.FinDeProceso(p.ID)
	logueador.MetricasDeEstado(p.ID, p.MetricasConteo, p.MetricasTiempo)
	k.finalizados = append(k.finalizados, p.Resumen())

	k.sched.SwitchTask()
}

// ---------------------------- Ejecucion ----------------------------//

// Run arranca el timer y corre hasta que todos los procesos terminen o se
// cancele ctx. Solo retorna cuando la CPU queda ociosa: si hay procesos que
// nunca se bloquean, la cancelacion espera a que lo hagan.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.enBoot {
		return ErrNotBoot
	}

	k.cancelado = ctx.Err() != nil

	tickCtx, cancelar := context.WithCancel(ctx)
	defer cancelar()
	intervalo := time.Duration(k.cfg.TickIntervalMs) * time.Millisecond
	k.pit.Start(tickCtx, intervalo)

	fin := make(chan struct{})
	defer close(fin)
	go func() {
		select {
		case <-ctx.Done():
			k.pedir(func() { k.cancelado = true })
		case <-fin:
		}
	}()

	k.esperar(esperaFin)
	return ctx.Err()
}

// RunUntilIdle corre sin timer hasta que no quede nada listo para ejecutar
// ni IRQs pendientes. Los procesos bloqueados para siempre siguen bloqueados.
func (k *Kernel) RunUntilIdle() error {
	if !k.enBoot {
		return ErrNotBoot
	}
	k.esperar(esperaOcio)
	return nil
}

// esperar le pasa la CPU al planificador y espera a que la idle la devuelva.
func (k *Kernel) esperar(modo espera) {
	k.espera = modo
	k.enBoot = false
	if !k.arrancado {
		k.arrancado = true
		if err := k.sched.Start(); err != nil {
			logueador.Error("No se pudo arrancar el planificador: %v", err)
			k.enBoot = true
			return
		}
	} else {
		k.idleCh <- struct{}{}
	}
	<-k.bootCh
}

// ocioso corre en la tarea idle cuando no hay nada listo. Si el contexto de
// booteo esta esperando esta condicion le devuelve la CPU.
func (k *Kernel) ocioso() bool {
	switch k.espera {
	case esperaOcio:
	case esperaFin:
		if k.sched.TaskCount() > 0 && !k.cancelado {
			return false
		}
	default:
		return false
	}

	k.espera = sinEspera
	flags := k.machine.DisableInterrupts()
	k.enBoot = true
	k.bootCh <- struct{}{}

	<-k.idleCh
	k.machine.RestoreInterrupts(flags)
	return true
}

// Tick simula una interrupcion de timer y la atiende en el acto si las
// interrupciones estan habilitadas.
func (k *Kernel) Tick() {
	k.pit.Tick()
	k.machine.Checkpoint()
}

// Checkpoint es un punto de preempcion explicito.
func (k *Kernel) Checkpoint() {
	k.machine.Checkpoint()
}

// ---------------------------- ksync.Kernel ----------------------------//

func (k *Kernel) Platform() hal.Platform {
	return k.machine
}

// Current devuelve el proceso que tiene la CPU, o nil en el contexto de
// booteo.
func (k *Kernel) Current() *process.PCB {
	if k.enBoot {
		return nil
	}
	return k.sched.Current()
}

func (k *Kernel) Park(p *process.PCB) {
	k.sched.Park(p)
}

func (k *Kernel) Wake(p *process.PCB) {
	k.sched.Wake(p)
}

func (k *Kernel) Yield() {
	if k.Current() == nil {
		return
	}
	k.sched.Yield()
}

// ---------------------------- Primitivas ----------------------------//

func (k *Kernel) NewMutex() *ksync.Mutex {
	return ksync.NewMutex(k)
}

func (k *Kernel) NewSemaphore(inicial int) (*ksync.Semaphore, error) {
	return ksync.NewSemaphore(k, inicial)
}

func (k *Kernel) NewCond() *ksync.Cond {
	return ksync.NewCond(k)
}

// NewMessageQueue crea una cola con los limites de la configuracion.
func (k *Kernel) NewMessageQueue() (*ipc.MessageQueue, error) {
	return ipc.NewMessageQueue(k, k.heap, k.cfg.MaxMessages, k.cfg.MaxMessageSize)
}

// NewPipe crea un pipe; con capacidad 0 usa la de la configuracion.
func (k *Kernel) NewPipe(capacidad int) (*ipc.ReadEnd, *ipc.WriteEnd, error) {
	if capacidad == 0 {
		capacidad = k.cfg.PipeCapacity
	}
	return ipc.NewPipe(k, k.heap, capacidad)
}

// ---------------------------- Estado ----------------------------//

// Snapshot arma el estado del kernel. Tiene que correr con la CPU tomada;
// desde otra goroutine se usa Consultar.
func (k *Kernel) Snapshot() structs.EstadoKernel {
	flags := k.machine.DisableInterrupts()
	defer k.machine.RestoreInterrupts(flags)

	estado := structs.EstadoKernel{
		Procesos:      make([]structs.ResumenProceso, 0, k.procs.Count()),
		Finalizados:   append([]structs.ResumenProceso(nil), k.finalizados...),
		Planificador:  k.sched.Stats(),
		MemoriaUsada:  k.heap.InUse(),
		IRQsAtendidas: k.machine.Acknowledged(),
	}
	for _, p := range k.procs.Processes() {
		estado.Procesos = append(estado.Procesos, p.Resumen())
	}
	return estado
}

func (k *Kernel) Heap() *hal.Heap {
	return k.heap
}

func (k *Kernel) Ticks() uint32 {
	return k.pit.Ticks()
}

// Consultar pide una foto del estado desde cualquier goroutine. Se atiende en
// la IRQ de consola la proxima vez que la CPU tenga interrupciones
// habilitadas.
func (k *Kernel) Consultar(ctx context.Context) (structs.EstadoKernel, error) {
	var estado structs.EstadoKernel
	hecho := k.pedir(func() { estado = k.Snapshot() })
	select {
	case <-hecho:
		return estado, nil
	case <-ctx.Done():
		return structs.EstadoKernel{}, ctx.Err()
	}
}

// Finalizar es Kill pedido desde otra goroutine.
func (k *Kernel) Finalizar(ctx context.Context, pid uint32) error {
	var err error
	hecho := k.pedir(func() { err = k.marcar(pid) })
	select {
	case <-hecho:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// marcar es Kill sin el caso de auto-finalizar: en la IRQ de consola el
// proceso actual es el interrumpido, que sale al terminar la rutina.
func (k *Kernel) marcar(pid uint32) error {
	p, ok := k.procs.Lookup(pid)
	if !ok {
		return fmt.Errorf("%w: pid %d", process.ErrUnknownProcess, pid)
	}
	if p == k.sched.Idle() {
		return ErrIdleTask
	}
	if p != k.Current() {
		return k.Kill(pid)
	}
	if p.Retenidos() > 0 {
		return fmt.Errorf("%w: pid %d", process.ErrBusy, pid)
	}
	p.MarkKilled()
	return nil
}

func (k *Kernel) pedir(fn func()) <-chan struct{} {
	hecho := make(chan struct{})
	k.pmu.Lock()
	k.peticiones = append(k.peticiones, peticion{fn: fn, hecho: hecho})
	k.pmu.Unlock()
	k.machine.Raise(hal.IRQConsola)
	return hecho
}

// atenderPeticiones es la rutina de la IRQ de consola.
func (k *Kernel) atenderPeticiones(int) {
	k.pmu.Lock()
	pendientes := k.peticiones
	k.peticiones = nil
	k.pmu.Unlock()

	for _, pet := range pendientes {
		pet.fn()
		close(pet.hecho)
	}

	if cur := k.Current(); cur != nil && cur.Killed() {
		runtime.Goexit()
	}
}
