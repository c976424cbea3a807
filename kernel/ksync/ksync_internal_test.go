package ksync

import (
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azzaros/kernel/hal"
	"azzaros/kernel/process"
	"azzaros/utils/logueador"
)

// kernelFalso deja elegir a mano el proceso actual y que pasa al dormir.
type kernelFalso struct {
	m           *hal.Machine
	cur         *process.PCB
	alDormir    func()
	alDespertar func()
}

func (k *kernelFalso) Platform() hal.Platform { return k.m }
func (k *kernelFalso) Current() *process.PCB { return k.cur }
func (k *kernelFalso) Yield() {}

func (k *kernelFalso) Park(*process.PCB) {
	if f := k.alDormir; f != nil {
		k.alDormir = nil
		f()
	}
}

func (k *kernelFalso) Wake(*process.PCB) {
	if k.alDespertar != nil {
		k.alDespertar()
	}
}

type espiaDeLog func(*log.Entry)

func (e espiaDeLog) Levels() []log.Level { return log.AllLevels }

func (e espiaDeLog) Fire(entrada *log.Entry) error {
	e(entrada)
	return nil
}

func espiarLogs(t *testing.T, fn func(*log.Entry)) {
	t.Helper()
	logueador.ConfigurarSalida(io.Discard, "DEBUG")
	previos := log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	log.AddHook(espiaDeLog(fn))
	t.Cleanup(func() {
		log.StandardLogger().ReplaceHooks(previos)
		logueador.ConfigurarSalida(io.Discard, "ERROR")
	})
}

func TestLogsYDespertaresConLosSpinlocksLibres(t *testing.T) {
	k := &kernelFalso{m: hal.NewMachine()}
	m := NewMutex(k)
	s, err := NewSemaphore(k, 0)
	require.NoError(t, err)

	var tomados []bool
	anotar := func() { tomados = append(tomados, m.guard.IsLocked() || s.guard.IsLocked()) }
	espiarLogs(t, func(*log.Entry) { anotar() })
	k.alDespertar = anotar

	a := &process.PCB{ID: 1}
	b := &process.PCB{ID: 2}

	k.cur = a
	require.NoError(t, m.Lock())
	k.cur = b
	k.alDormir = func() {
		k.cur = a
		assert.NoError(t, m.Unlock())
		k.cur = b
	}
	require.NoError(t, m.Lock())
	assert.Same(t, b, m.Owner())
	assert.Zero(t, a.Retenidos())
	assert.Equal(t, 1, b.Retenidos())

	k.alDormir = s.Signal
	require.NoError(t, s.Wait())

	// MotivoDeBloqueo y Wake del mutex, MotivoDeBloqueo y Wake del semaforo
	require.Len(t, tomados, 4)
	for _, tomado := range tomados {
		assert.False(t, tomado)
	}
}

func TestAbandonarDespiertaAlSiguiente(t *testing.T) {
	k := &kernelFalso{m: hal.NewMachine()}
	m := NewMutex(k)
	a := &process.PCB{ID: 1}
	b := &process.PCB{ID: 2}

	k.cur = a
	require.NoError(t, m.Lock())
	k.cur = b
	k.alDormir = func() {
		assert.Equal(t, 1, a.AbandonarRetenidos())
	}
	require.NoError(t, m.Lock())
	assert.Same(t, b, m.Owner())

	// abandonar un mutex ajeno no lo toca
	m.Abandonar(a)
	assert.Same(t, b, m.Owner())
}
