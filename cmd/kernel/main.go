package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"azzaros/kernel"
	"azzaros/kernel/api"
	"azzaros/kernel/ipc"
	"azzaros/utils"
	"azzaros/utils/config"
	"azzaros/utils/logueador"
)

const rondasPorDefecto = 100

// Uso: kernel [archivo de config] [rondas]
func main() {
	rutaConfig := "kernel/config.json"
	if len(os.Args) > 1 {
		rutaConfig = os.Args[1]
	}
	rondas := rondasPorDefecto
	if len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "rondas invalidas: %q\n", os.Args[2])
			os.Exit(1)
		}
		rondas = n
	}

	cfg, err := config.CargarConfiguracion(rutaConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no se pudo cargar %s: %v\n", rutaConfig, err)
		os.Exit(1)
	}

	logFile, err := logueador.ConfigurarLogger("log_KERNEL", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no se pudo configurar el logger: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	if err := correr(cfg, rondas); err != nil {
		logueador.Error("El kernel termino con error: %v", err)
		logFile.Close()
		os.Exit(1)
	}
}

func correr(cfg config.ConfigKernel, rondas int) error {
	k, err := kernel.New(cfg)
	if err != nil {
		return err
	}
	if err := cargarTrabajo(k, rondas); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servidorCtx, apagar := context.WithCancel(ctx)
	defer apagar()
	errServidor := make(chan error, 1)
	if cfg.PortKernel > 0 {
		go func() {
			errServidor <- utils.IniciarServidor(servidorCtx, cfg.IPKernel, cfg.PortKernel, api.Rutas(k))
		}()
	} else {
		errServidor <- nil
	}

	errRun := k.Run(ctx)
	apagar()
	if err := <-errServidor; err != nil {
		logueador.Error("Servidor HTTP: %v", err)
	}

	estado := k.Snapshot()
	logueador.Info("## Fin de la ejecucion - Procesos finalizados: %d, Cambios de contexto: %d, Ticks: %d, Memoria en uso: %d bytes",
		len(estado.Finalizados), estado.Planificador.TotalCambios, estado.Planificador.Ticks, estado.MemoriaUsada)

	if errors.Is(errRun, context.Canceled) {
		logueador.Warn("Ejecucion interrumpida con %d procesos vivos", len(estado.Procesos)-1)
		return nil
	}
	return errRun
}

// cargarTrabajo arma un productor que manda pedidos por una cola de mensajes,
// un consumidor que los cuenta bajo un mutex y los reenvia por un pipe, y un
// registrador que lee el pipe hasta que se cierra.
func cargarTrabajo(k *kernel.Kernel, rondas int) error {
	cola, err := k.NewMessageQueue()
	if err != nil {
		return err
	}
	lectura, escritura, err := k.NewPipe(0)
	if err != nil {
		return err
	}
	mu := k.NewMutex()
	procesados := 0

	productor := func(k *kernel.Kernel) {
		for i := 0; i < rondas; i++ {
			if err := cola.Send([]byte(fmt.Sprintf("pedido %d", i))); err != nil {
				logueador.Error("productor: %v", err)
				break
			}
			k.Checkpoint()
		}
		_ = cola.Close()
	}

	consumidor := func(k *kernel.Kernel) {
		buf := make([]byte, ipc.MaxMessageSize)
		for {
			n, err := cola.Receive(buf)
			if errors.Is(err, ipc.ErrClosed) {
				break
			}
			if err != nil {
				logueador.Error("consumidor: %v", err)
				break
			}
			if err := mu.Lock(); err == nil {
				procesados++
				_ = mu.Unlock()
			}
			if _, err := escritura.Write(append(buf[:n], '\n')); err != nil {
				logueador.Error("consumidor: %v", err)
				break
			}
		}
		_ = escritura.Close()
	}

	registrador := func(k *kernel.Kernel) {
		buf := make([]byte, 256)
		total := 0
		for {
			n, err := lectura.Read(buf)
			total += n
			if err != nil {
				break
			}
		}
		_ = mu.Lock()
		logueador.Info("Registrador: %d bytes leidos del pipe, %d pedidos procesados", total, procesados)
		_ = mu.Unlock()
		_ = cola.Destroy()
		_ = lectura.Destroy()
	}

	for _, p := range []struct {
		nombre    string
		prioridad uint8
		fn        func(*kernel.Kernel)
	}{
		{"productor", 3, productor},
		{"consumidor", 2, consumidor},
		{"registrador", 1, registrador},
	} {
		if _, err := k.Spawn(p.nombre, p.prioridad, p.fn); err != nil {
			return err
		}
	}
	return nil
}
