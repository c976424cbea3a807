// Package api expone el estado del kernel por HTTP. Los handlers corren en
// goroutines de net/http, fuera de la CPU simulada, asi que todo pasa por
// Consultar y Finalizar.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"azzaros/kernel"
	"azzaros/kernel/process"
	"azzaros/utils"
	"azzaros/utils/logueador"
	"azzaros/utils/structs"
)

const TimeoutPedido = 2 * time.Second

// Nucleo es la parte del kernel que se puede pedir desde afuera de la CPU.
type Nucleo interface {
	Consultar(ctx context.Context) (structs.EstadoKernel, error)
	Finalizar(ctx context.Context, pid uint32) error
}

func Rutas(n Nucleo) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /handshake", HandleHandshake)
	mux.HandleFunc("GET /estado", HandleEstado(n))
	mux.HandleFunc("GET /procesos", HandleProcesos(n))
	mux.HandleFunc("GET /planificador", HandlePlanificador(n))
	mux.HandleFunc("POST /procesos/finalizar", HandleFinalizar(n))
	return mux
}

// ---------------------------- Handlers ----------------------------//
func HandleHandshake(w http.ResponseWriter, r *http.Request) {
	utils.ResponderMensaje(w, http.StatusOK, "OK")
}

func HandleEstado(n Nucleo) func(http.ResponseWriter, *http.Request) {
	return conEstado(n, func(estado structs.EstadoKernel) any { return estado })
}

func HandleProcesos(n Nucleo) func(http.ResponseWriter, *http.Request) {
	return conEstado(n, func(estado structs.EstadoKernel) any { return estado.Procesos })
}

func HandlePlanificador(n Nucleo) func(http.ResponseWriter, *http.Request) {
	return conEstado(n, func(estado structs.EstadoKernel) any { return estado.Planificador })
}

func conEstado(n Nucleo, elegir func(structs.EstadoKernel) any) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), TimeoutPedido)
		defer cancel()

		estado, err := n.Consultar(ctx)
		if err != nil {
			logueador.Error("No se pudo consultar el estado del kernel (%v)", err)
			utils.ResponderMensaje(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		utils.ResponderJSON(w, http.StatusOK, elegir(estado))
	}
}

func HandleFinalizar(n Nucleo) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		pedido, err := utils.DecodificarMensaje[structs.PedidoFinalizar](r)
		if err != nil {
			logueador.Error("No se pudo decodificar el mensaje (%v)", err)
			utils.ResponderMensaje(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), TimeoutPedido)
		defer cancel()

		if err := n.Finalizar(ctx, pedido.PID); err != nil {
			logueador.Warn("No se pudo finalizar el proceso %d (%v)", pedido.PID, err)
			utils.ResponderMensaje(w, codigoDeError(err), err.Error())
			return
		}
		logueador.Info("## (%d) - Finalizacion pedida por la API", pedido.PID)
		utils.ResponderMensaje(w, http.StatusOK, "OK")
	}
}

func codigoDeError(err error) int {
	switch {
	case errors.Is(err, process.ErrUnknownProcess):
		return http.StatusNotFound
	case errors.Is(err, kernel.ErrIdleTask), errors.Is(err, process.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
