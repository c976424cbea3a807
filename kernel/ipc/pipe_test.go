package ipc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azzaros/kernel"
	"azzaros/kernel/ipc"
)

func TestPipeCapacidadInvalida(t *testing.T) {
	k := nuevoKernel(t)
	for _, capacidad := range []int{0, -1} {
		_, _, err := ipc.NewPipe(k, k.Heap(), capacidad)
		assert.ErrorIs(t, err, ipc.ErrInvalidSize)
	}

	_, w, err := k.NewPipe(0)
	require.NoError(t, err)
	assert.Equal(t, ipc.DefaultPipeCapacity, w.Capacity())
}

func TestPipeIdaYVuelta(t *testing.T) {
	k := nuevoKernel(t)
	r, w, err := k.NewPipe(64)
	require.NoError(t, err)

	var leido string
	spawn(t, k, "escritor", 2, func(k *kernel.Kernel) {
		n, err := w.Write([]byte("hello world"))
		assert.NoError(t, err)
		assert.Equal(t, 11, n)
		assert.Equal(t, 11, w.Available())
		assert.NoError(t, w.Close())
	})
	spawn(t, k, "lector", 1, func(k *kernel.Kernel) {
		buf := make([]byte, 64)
		n, err := r.Read(buf)
		assert.NoError(t, err)
		leido = string(buf[:n])
	})

	require.NoError(t, k.RunUntilIdle())
	assert.Equal(t, "hello world", leido)
	assert.Zero(t, r.Available())
}

func TestPipeMasDatosQueCapacidad(t *testing.T) {
	k := nuevoKernel(t)
	r, w, err := k.NewPipe(4)
	require.NoError(t, err)

	datos := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	var trozos [][]byte
	var errFinal error
	spawn(t, k, "escritor", 2, func(k *kernel.Kernel) {
		n, err := w.Write(datos)
		assert.NoError(t, err)
		assert.Equal(t, len(datos), n)
		assert.NoError(t, w.Close())
	})
	spawn(t, k, "lector", 1, func(k *kernel.Kernel) {
		for {
			buf := make([]byte, 3)
			n, err := r.Read(buf)
			if err != nil {
				errFinal = err
				return
			}
			trozos = append(trozos, buf[:n])
		}
	})

	require.NoError(t, k.RunUntilIdle())
	assert.Equal(t, [][]byte{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, {9}}, trozos)
	assert.ErrorIs(t, errFinal, ipc.ErrClosed)
}

func TestPipeCloseDespiertaAlLector(t *testing.T) {
	k := nuevoKernel(t)
	r, w, err := k.NewPipe(16)
	require.NoError(t, err)

	termino := false
	var errLeer error
	spawn(t, k, "lector", 1, func(k *kernel.Kernel) {
		_, errLeer = r.Read(make([]byte, 4))
		termino = true
	})

	require.NoError(t, k.RunUntilIdle())
	assert.False(t, termino, "sin datos el lector queda bloqueado")

	require.NoError(t, w.Close())
	require.NoError(t, k.RunUntilIdle())
	assert.True(t, termino)
	assert.ErrorIs(t, errLeer, ipc.ErrClosed)
	assert.True(t, r.IsClosed())
}

func TestPipeCloseCortaAlEscritor(t *testing.T) {
	k := nuevoKernel(t)
	r, w, err := k.NewPipe(4)
	require.NoError(t, err)

	escritos := -1
	var errEscribir error
	spawn(t, k, "escritor", 1, func(k *kernel.Kernel) {
		escritos, errEscribir = w.Write(make([]byte, 10))
	})

	require.NoError(t, k.RunUntilIdle())
	assert.Equal(t, -1, escritos, "el buffer lleno bloquea al escritor")
	assert.Equal(t, 4, r.Available())

	require.NoError(t, r.Close())
	require.NoError(t, k.RunUntilIdle())
	assert.Equal(t, 4, escritos)
	assert.ErrorIs(t, errEscribir, ipc.ErrClosed)
}

func TestPipeCerrado(t *testing.T) {
	k := nuevoKernel(t)
	r, w, err := k.NewPipe(8)
	require.NoError(t, err)

	spawn(t, k, "p", 1, func(k *kernel.Kernel) {
		assert.NoError(t, w.Close())
		n, err := w.Write([]byte("x"))
		assert.Zero(t, n)
		assert.ErrorIs(t, err, ipc.ErrClosed)

		n, err = r.Read(make([]byte, 1))
		assert.Zero(t, n)
		assert.ErrorIs(t, err, ipc.ErrClosed)
	})
	require.NoError(t, k.RunUntilIdle())

	_, err = r.Read(nil)
	assert.ErrorIs(t, err, ipc.ErrInvalidSize)
	_, err = w.Write(nil)
	assert.ErrorIs(t, err, ipc.ErrInvalidSize)
}

func TestPipeDestroyLiberaElBuffer(t *testing.T) {
	k := nuevoKernel(t)
	base := k.Heap().InUse()

	r, w, err := k.NewPipe(128)
	require.NoError(t, err)
	assert.Equal(t, base+128, k.Heap().InUse())

	require.NoError(t, r.Destroy())
	assert.Equal(t, base, k.Heap().InUse())
	require.NoError(t, w.Destroy(), "destruir dos veces no hace nada")
	assert.True(t, w.IsClosed())
	assert.Zero(t, w.Available())
}
