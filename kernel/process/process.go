// Package process es la tabla de procesos: crea y destruye PCBs y hace el
// cambio de contexto crudo. No decide a quien le toca correr.
//
// Cada PCB corre en su propia goroutine, pero solo una tiene la CPU a la vez:
// la CPU se pasa por el canal resume del PCB. Guardar el contexto es estacionar
// la goroutine en ese canal; cargarlo es mandarle el token.
package process

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"runtime"

	"azzaros/kernel/hal"
	"azzaros/utils/logueador"
)

// Tamaño que se le cobra al heap por cada PCB.
const pcbRecordSize = 256

// Valores del frame inicial (x86, 32 bits)
const (
	eflagsInicial = 0x202
	selectorCS    = 0x08
	selectorDS    = 0x10
	palabrasFrame = 17
)

var (
	ErrTableFull      = errors.New("process: tabla de procesos llena")
	ErrInvalidEntry   = errors.New("process: punto de entrada o nombre invalido")
	ErrUnknownProcess = errors.New("process: proceso inexistente")
	ErrBusy           = errors.New("process: el proceso sigue en una lista de espera")
	ErrNoMemory       = errors.New("process: sin memoria")
)

type Config struct {
	MaxProcesses int
	StackSize    int
}

type Table struct {
	platform hal.Platform
	heap     hal.Allocator
	reloj    func() uint32
	cfg      Config

	procesos []*PCB
	current  *PCB
	count    int
	nextID   uint32

	onExit func(*PCB)
}

func NewTable(p hal.Platform, heap hal.Allocator, reloj func() uint32, cfg Config) *Table {
	t := &Table{
		platform: p,
		heap:     heap,
		reloj:    reloj,
		cfg:      cfg,
	}
	t.Init()
	return t
}

// Init deja la tabla vacia.
func (t *Table) Init() {
	t.procesos = make([]*PCB, t.cfg.MaxProcesses)
	t.current = nil
	t.count = 0
	t.nextID = 0
}

// SetExitHook define que hacer cuando la entrada de un proceso retorna (o el
// proceso fue marcado para morir). El hook corre con la CPU tomada y tiene que
// terminar cambiando de contexto.
func (t *Table) SetExitHook(fn func(*PCB)) {
	t.onExit = fn
}

// Create aloca el PCB y su stack, arma el frame inicial y lo registra en
// estado Ready. Si algo falla no queda nada alocado.
func (t *Table) Create(name string, entry func()) (*PCB, error) {
	if name == "" || entry == nil {
		return nil, ErrInvalidEntry
	}
	if t.count >= t.cfg.MaxProcesses {
		return nil, ErrTableFull
	}

	record, err := t.heap.Alloc(pcbRecordSize)
	if err != nil {
		return nil, fmt.Errorf("%w: PCB de %q: %w", ErrNoMemory, name, err)
	}

	paginas := (t.cfg.StackSize + hal.PageSize - 1) / hal.PageSize
	stack, err := t.heap.AllocPages(paginas)
	if err != nil {
		t.heap.Free(record)
		return nil, fmt.Errorf("%w: stack de %q: %w", ErrNoMemory, name, err)
	}

	if len(name) > NombreMax-1 {
		name = name[:NombreMax-1]
	}

	conteo, tiempo := nuevasMetricas()
	p := &PCB{
		ID:             t.nextID,
		Name:           name,
		State:          Ready,
		Stack:          stack,
		MetricasConteo: conteo,
		MetricasTiempo: tiempo,
		estadoDesde:    t.reloj(),
		entry:          entry,
		record:         record,
		resume:         make(chan struct{}, 1),
	}
	p.MetricasConteo[Ready.String()]++
	p.Context = armarFrame(stack, reflect.ValueOf(entry).Pointer())

	for i, ocupado := range t.procesos {
		if ocupado == nil {
			p.slot = i
			t.procesos[i] = p
			break
		}
	}
	t.nextID++
	t.count++

	logueador.KernelCreacionDeProceso(p.ID, p.Name)
	return p, nil
}

// armarFrame apila el frame de interrupcion inicial para que el primer cambio
// de contexto retome en entry con interrupciones habilitadas.
func armarFrame(stack []byte, entry uintptr) Context {
	frame := [palabrasFrame]uint32{
		eflagsInicial,
		selectorCS,
		uint32(entry),
		0, // codigo de error
		0, // numero de interrupcion
		0, 0, 0, 0, // EAX ECX EDX EBX
		0, 0, 0, 0, // ESP EBP ESI EDI
		selectorDS, selectorDS, selectorDS, selectorDS, // DS ES FS GS
	}

	sp := len(stack)
	for _, palabra := range frame {
		sp -= 4
		binary.LittleEndian.PutUint32(stack[sp:], palabra)
	}

	return Context{SP: uintptr(sp), BP: 0, Entry: entry}
}

// Destroy lo saca de la tabla y libera stack y PCB, en ese orden. No se
// puede destruir un proceso que todavia esta en una lista de espera.
func (t *Table) Destroy(p *PCB) error {
	if p == nil || p.slot < 0 || p.slot >= len(t.procesos) || t.procesos[p.slot] != p {
		return ErrUnknownProcess
	}
	if p.waitRefs > 0 {
		return fmt.Errorf("%w: pid %d en %d listas", ErrBusy, p.ID, p.waitRefs)
	}

	t.procesos[p.slot] = nil
	t.count--
	t.SetState(p, Terminated)

	t.heap.FreePages(p.Stack)
	p.Stack = nil
	t.heap.Free(p.record)
	p.record = nil

	if t.current == p {
		t.current = nil
	}
	return nil
}

// SwitchTo es el unico lugar donde se cambia de contexto: guarda al actual,
// carga a next y actualiza current. La goroutine que llama es la del proceso
// actual y queda estacionada hasta que alguien la vuelva a elegir.
func (t *Table) SwitchTo(next *PCB) error {
	if next == nil || next.State == Terminated {
		return ErrUnknownProcess
	}

	prev := t.current
	if prev == next {
		return nil
	}
	t.current = next

	if !next.started {
		next.started = true
		go t.arrancar(next)
	}
	next.resume <- struct{}{}

	if prev == nil {
		// el contexto anterior era el de arranque o un proceso ya destruido
		return nil
	}

	<-prev.resume
	if prev.killed {
		runtime.Goexit()
	}
	return nil
}

// arrancar es el trampolin de un proceso nuevo: espera la CPU, habilita
// interrupciones (IF del frame inicial) y salta a la entrada.
func (t *Table) arrancar(p *PCB) {
	<-p.resume
	defer func() {
		if t.onExit != nil {
			t.onExit(p)
		}
	}()

	if p.killed {
		return
	}
	t.platform.RestoreInterrupts(hal.FlagIF)
	p.entry()
}

// SetState es el unico punto donde cambia el estado de un PCB. Lleva las
// metricas por estado.
func (t *Table) SetState(p *PCB, nuevo State) {
	anterior := p.State
	if anterior == nuevo {
		return
	}
	ahora := t.reloj()
	p.MetricasTiempo[anterior.String()] += ahora - p.estadoDesde
	p.MetricasConteo[nuevo.String()]++
	p.estadoDesde = ahora
	p.State = nuevo

	logueador.CambioDeEstado(p.ID, anterior.String(), nuevo.String())
}

func (t *Table) Current() *PCB {
	return t.current
}

func (t *Table) Count() int {
	return t.count
}

// Lookup busca un proceso vivo por id.
func (t *Table) Lookup(id uint32) (*PCB, bool) {
	for _, p := range t.procesos {
		if p != nil && p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Processes devuelve los procesos vivos ordenados por slot.
func (t *Table) Processes() []*PCB {
	out := make([]*PCB, 0, t.count)
	for _, p := range t.procesos {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}
