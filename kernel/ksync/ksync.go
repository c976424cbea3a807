// Package ksync tiene las primitivas de sincronizacion que bloquean: mutex,
// semaforo contador y variable de condicion. Cada una protege su estado con
// un spinlock propio y duerme a los procesos con el protocolo Park/Wake del
// planificador.
package ksync

import (
	"errors"

	"azzaros/kernel/hal"
	"azzaros/kernel/process"
)

var (
	ErrDeadlock  = errors.New("ksync: el proceso ya es duenio del mutex")
	ErrNotOwner  = errors.New("ksync: el proceso no es duenio del mutex")
	ErrNegative  = errors.New("ksync: valor inicial negativo")
	ErrDestroyed = errors.New("ksync: primitiva destruida")
	ErrNoProcess = errors.New("ksync: no hay proceso actual")
	ErrAbandoned = errors.New("ksync: el duenio termino con el mutex tomado")
)

// Kernel es lo que las primitivas necesitan del nucleo.
type Kernel interface {
	Platform() hal.Platform
	Current() *process.PCB
	Park(p *process.PCB)
	Wake(p *process.PCB)
	Yield()
}

// espera es el registro de un proceso dormido en un semaforo o condicion.
type espera struct {
	p         *process.PCB
	listo     bool
	destruido bool
}

// marcar completa el registro ya desencolado. Corre con el spinlock tomado;
// el Wake va despues, con el spinlock suelto.
func marcar(e *espera, destruido bool) *process.PCB {
	e.listo = true
	e.destruido = destruido
	e.p.FinishWait()
	return e.p
}

// despertar vuelve a listos a los procesos marcados.
func despertar(k Kernel, ps ...*process.PCB) {
	for _, p := range ps {
		k.Wake(p)
	}
}

// dormir bloquea al proceso hasta que alguien marque su registro como listo.
func dormir(k Kernel, e *espera) {
	for !e.listo {
		k.Park(e.p)
	}
}
