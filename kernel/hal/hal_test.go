package hal

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreAtiendePendientes(t *testing.T) {
	m := NewMachine()
	var atendidas []int
	m.RegisterHandler(IRQTeclado, func(irq int) {
		assert.False(t, m.InterruptsEnabled(), "la rutina corre con interrupciones deshabilitadas")
		atendidas = append(atendidas, irq)
	})

	flags := m.DisableInterrupts()
	assert.Equal(t, FlagIF, flags)
	m.Raise(IRQTeclado)
	m.Raise(IRQTeclado)
	assert.Empty(t, atendidas, "con IF apagado no se atiende nada")
	assert.Equal(t, 2, m.Pending())

	m.RestoreInterrupts(flags)
	assert.Equal(t, []int{IRQTeclado, IRQTeclado}, atendidas)
	assert.Equal(t, uint64(2), m.Acknowledged())
	assert.True(t, m.InterruptsEnabled())
}

func TestRestoreAnidado(t *testing.T) {
	m := NewMachine()
	externo := m.DisableInterrupts()
	interno := m.DisableInterrupts()
	assert.Equal(t, Flags(0), interno)

	m.RestoreInterrupts(interno)
	assert.False(t, m.InterruptsEnabled())
	m.RestoreInterrupts(externo)
	assert.True(t, m.InterruptsEnabled())
}

func TestHaltEsperaUnaIRQ(t *testing.T) {
	m := NewMachine()
	pit := NewPIT(m)
	var vistos []uint32
	pit.SetCallback(func(tick uint32) { vistos = append(vistos, tick) })

	go pit.Tick()
	m.Halt()

	assert.Equal(t, []uint32{1}, vistos)
	assert.Equal(t, uint32(1), pit.Ticks())
}

func TestCheckpointRespetaIF(t *testing.T) {
	m := NewMachine()
	pit := NewPIT(m)

	flags := m.DisableInterrupts()
	pit.Tick()
	m.Checkpoint()
	assert.Equal(t, uint32(0), pit.Ticks())

	m.RestoreInterrupts(flags)
	assert.Equal(t, uint32(1), pit.Ticks())
	m.Checkpoint()
	assert.Equal(t, 0, m.Pending())
}

func TestIRQFueraDeRango(t *testing.T) {
	m := NewMachine()
	m.Raise(MaxIRQ)
	m.Raise(-1)
	assert.Equal(t, 0, m.Pending())
}

func TestHeapLimite(t *testing.T) {
	h := NewHeap(100)

	a, err := h.Alloc(60)
	require.NoError(t, err)
	assert.Len(t, a, 60)

	_, err = h.Alloc(50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfMemory))

	h.Free(a)
	assert.Equal(t, 0, h.InUse())

	_, err = h.Alloc(0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	st := h.Stats()
	assert.Equal(t, uint64(1), st.Allocs)
	assert.Equal(t, uint64(1), st.Frees)
	assert.Equal(t, uint64(1), st.Failures)
}

func TestHeapPaginasAlineadas(t *testing.T) {
	h := NewHeap(10 * PageSize)

	pags, err := h.AllocPages(4)
	require.NoError(t, err)
	assert.Len(t, pags, 4*PageSize)
	assert.Zero(t, uintptr(unsafe.Pointer(&pags[0]))%PageSize)
	assert.Equal(t, 4*PageSize, h.InUse())

	h.FreePages(pags)
	assert.Equal(t, 0, h.InUse())

	h.SetLimit(PageSize)
	_, err = h.AllocPages(2)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}
