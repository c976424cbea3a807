package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azzaros/kernel"
	"azzaros/kernel/process"
	"azzaros/utils"
	"azzaros/utils/config"
	"azzaros/utils/logueador"
	"azzaros/utils/structs"
)

func TestMain(m *testing.M) {
	logueador.ConfigurarSalida(io.Discard, "ERROR")
	os.Exit(m.Run())
}

type nucleoFalso struct {
	estado      structs.EstadoKernel
	errEstado   error
	finalizados []uint32
}

func (n *nucleoFalso) Consultar(ctx context.Context) (structs.EstadoKernel, error) {
	return n.estado, n.errEstado
}

func (n *nucleoFalso) Finalizar(ctx context.Context, pid uint32) error {
	switch pid {
	case 0:
		return kernel.ErrIdleTask
	case 7:
		return fmt.Errorf("%w: pid 7", process.ErrBusy)
	case 99:
		return fmt.Errorf("%w: pid 99", process.ErrUnknownProcess)
	}
	n.finalizados = append(n.finalizados, pid)
	return nil
}

func servidor(t *testing.T, n Nucleo) (string, int) {
	t.Helper()
	srv := httptest.NewServer(Rutas(n))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	puerto, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), puerto
}

func TestConsultas(t *testing.T) {
	n := &nucleoFalso{estado: structs.EstadoKernel{
		Procesos: []structs.ResumenProceso{
			{PID: 0, Nombre: "idle", Estado: structs.EstadoReady},
			{PID: 1, Nombre: "productor", Estado: structs.EstadoBlocked, Prioridad: 3},
		},
		Planificador: structs.ResumenPlanificador{Algoritmo: "RR", Actual: 1, Tareas: []uint32{1}},
		MemoriaUsada: 4096,
	}}
	ip, puerto := servidor(t, n)

	procesos, err := utils.ConsultarJSON[[]structs.ResumenProceso](ip, puerto, "procesos")
	require.NoError(t, err)
	assert.Equal(t, n.estado.Procesos, *procesos)

	plan, err := utils.ConsultarJSON[structs.ResumenPlanificador](ip, puerto, "planificador")
	require.NoError(t, err)
	assert.Equal(t, "RR", plan.Algoritmo)
	assert.Equal(t, []uint32{1}, plan.Tareas)

	estado, err := utils.ConsultarJSON[structs.EstadoKernel](ip, puerto, "estado")
	require.NoError(t, err)
	assert.Equal(t, 4096, estado.MemoriaUsada)

	_, err = utils.ConsultarJSON[structs.Respuesta](ip, puerto, "no-existe")
	assert.Error(t, err)
}

func TestConsultaSinCPU(t *testing.T) {
	n := &nucleoFalso{errEstado: context.DeadlineExceeded}
	srv := httptest.NewServer(Rutas(n))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/procesos")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandshake(t *testing.T) {
	ip, puerto := servidor(t, &nucleoFalso{})
	resp, err := utils.ConsultarJSON[structs.Respuesta](ip, puerto, "handshake")
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Mensaje)
}

func TestFinalizar(t *testing.T) {
	n := &nucleoFalso{}
	srv := httptest.NewServer(Rutas(n))
	defer srv.Close()

	for _, caso := range []struct {
		cuerpo string
		status int
	}{
		{`{"pid": 3}`, http.StatusOK},
		{`{"pid": 0}`, http.StatusConflict},
		{`{"pid": 7}`, http.StatusConflict},
		{`{"pid": 99}`, http.StatusNotFound},
		{`no es json`, http.StatusBadRequest},
	} {
		resp, err := http.Post(srv.URL+"/procesos/finalizar", "application/json", strings.NewReader(caso.cuerpo))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, caso.status, resp.StatusCode, caso.cuerpo)
	}
	assert.Equal(t, []uint32{3}, n.finalizados)

	ip, puerto := servidor(t, n)
	mensaje, err := utils.EnviarMensaje(ip, puerto, "procesos/finalizar", structs.PedidoFinalizar{PID: 4})
	require.NoError(t, err)
	assert.Equal(t, "OK", mensaje)
	_, err = utils.EnviarMensaje(ip, puerto, "procesos/finalizar", structs.PedidoFinalizar{PID: 99})
	assert.Error(t, err)
}

// Contra un kernel de verdad corriendo en otra goroutine.
func TestContraElKernel(t *testing.T) {
	cfg := config.PorDefecto()
	cfg.MaxProcesses = 8
	cfg.MaxTasks = 8
	cfg.HeapSize = 1 << 20
	cfg.TickIntervalMs = 1
	k, err := kernel.New(cfg)
	require.NoError(t, err)
	sem, err := k.NewSemaphore(0)
	require.NoError(t, err)
	dormido, err := k.Spawn("dormido", 1, func(k *kernel.Kernel) { _ = sem.Wait() })
	require.NoError(t, err)

	ip, puerto := servidor(t, k)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resultado := make(chan error, 1)
	go func() {
		defer cancel()
		procesos, err := utils.ConsultarJSON[[]structs.ResumenProceso](ip, puerto, "procesos")
		if err != nil {
			resultado <- err
			return
		}
		if len(*procesos) != 2 || (*procesos)[1].PID != dormido.ID {
			resultado <- fmt.Errorf("procesos inesperados: %+v", *procesos)
			return
		}
		_, err = utils.EnviarMensaje(ip, puerto, "procesos/finalizar", structs.PedidoFinalizar{PID: dormido.ID})
		resultado <- err
	}()

	assert.ErrorIs(t, k.Run(ctx), context.Canceled)
	err = <-resultado
	assert.ErrorContains(t, err, "409", "un proceso esperando un semaforo no se puede finalizar")
}
