package structs

// Estados de un proceso
const (
	EstadoReady      = "READY"
	EstadoRunning    = "RUNNING"
	EstadoBlocked    = "BLOCKED"
	EstadoTerminated = "TERMINATED"
)

// Respuesta es el cuerpo generico de las respuestas HTTP del kernel.
type Respuesta struct {
	Mensaje string `json:"mensaje"`
}

// ResumenProceso es lo que expone la API por cada PCB.
type ResumenProceso struct {
	PID            uint32            `json:"pid"`
	Nombre         string            `json:"nombre"`
	Estado         string            `json:"estado"`
	Prioridad      uint8             `json:"prioridad"`
	Quantum        uint32            `json:"quantum"`
	Runtime        uint32            `json:"runtime"`
	MetricasConteo map[string]int    `json:"metricas_conteo"`
	MetricasTiempo map[string]uint32 `json:"metricas_tiempo"`
}

// ResumenPlanificador es el estado del planificador que expone la API.
type ResumenPlanificador struct {
	Algoritmo     string   `json:"algoritmo"`
	Actual        uint32   `json:"actual"`
	Tareas        []uint32 `json:"tareas"`
	TotalCambios  uint32   `json:"total_cambios"`
	Ticks         uint32   `json:"ticks"`
	QuantumActual uint32   `json:"quantum_actual"`
}

// EstadoKernel es una foto del kernel tomada desde la CPU.
type EstadoKernel struct {
	Procesos      []ResumenProceso    `json:"procesos"`
	Finalizados   []ResumenProceso    `json:"finalizados"`
	Planificador  ResumenPlanificador `json:"planificador"`
	MemoriaUsada  int                 `json:"memoria_usada"`
	IRQsAtendidas uint64              `json:"irqs_atendidas"`
}

// PedidoFinalizar es el cuerpo de POST /procesos/finalizar.
type PedidoFinalizar struct {
	PID uint32 `json:"pid"`
}
