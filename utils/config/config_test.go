package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func escribirConfig(t *testing.T, contenido string) string {
	t.Helper()
	ruta := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(ruta, []byte(contenido), 0o644))
	return ruta
}

func TestCargarConfiguracionAplicaDefaults(t *testing.T) {
	ruta := escribirConfig(t, `{"quantum": 4, "pipe_capacity": 16, "scheduler_algorithm": "rr"}`)

	cfg, err := CargarConfiguracion(ruta)
	require.NoError(t, err)

	assert.Equal(t, uint32(4), cfg.Quantum)
	assert.Equal(t, 16, cfg.PipeCapacity)
	assert.Equal(t, AlgoritmoRoundRobin, cfg.SchedulerAlgorithm)
	assert.Equal(t, PorDefecto().StackSize, cfg.StackSize)
	assert.Equal(t, PorDefecto().MaxMessages, cfg.MaxMessages)
}

func TestCargarConfiguracionExpandeVariables(t *testing.T) {
	t.Setenv("AZZAROS_PORT", "8000")
	ruta := escribirConfig(t, `{"port_kernel": ${AZZAROS_PORT+1000}, "ip_kernel": "${AZZAROS_IP_TEST}"}`)
	t.Setenv("AZZAROS_IP_TEST", "10.0.0.2")

	cfg, err := CargarConfiguracion(ruta)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.PortKernel)
	assert.Equal(t, "10.0.0.2", cfg.IPKernel)
}

func TestCargarConfiguracionRechazaLimites(t *testing.T) {
	ruta := escribirConfig(t, `{"max_messages": 65}`)

	_, err := CargarConfiguracion(ruta)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalida))
}

func TestCargarConfiguracionArchivoInexistente(t *testing.T) {
	_, err := CargarConfiguracion(filepath.Join(t.TempDir(), "no-existe.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	casos := map[string]func(*ConfigKernel){
		"algoritmo":     func(c *ConfigKernel) { c.SchedulerAlgorithm = "SJF" },
		"quantum":       func(c *ConfigKernel) { c.Quantum = 0 },
		"procesos":      func(c *ConfigKernel) { c.MaxProcesses = MaxProcesosLimite + 1 },
		"tareas":        func(c *ConfigKernel) { c.MaxTasks = 0 },
		"stack":         func(c *ConfigKernel) { c.StackSize = 0 },
		"pipe":          func(c *ConfigKernel) { c.PipeCapacity = -1 },
		"tam_mensaje":   func(c *ConfigKernel) { c.MaxMessageSize = MaxTamMensajeLimite + 1 },
		"heap":          func(c *ConfigKernel) { c.HeapSize = 0 },
		"cant_mensajes": func(c *ConfigKernel) { c.MaxMessages = 0 },
	}

	require.NoError(t, PorDefecto().Validate())

	for nombre, romper := range casos {
		t.Run(nombre, func(t *testing.T) {
			cfg := PorDefecto()
			romper(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalida)
		})
	}
}

func TestNormalizada(t *testing.T) {
	for entrada, esperado := range map[string]string{
		"":            AlgoritmoPrimerListo,
		"  ":          AlgoritmoPrimerListo,
		"rr":          AlgoritmoRoundRobin,
		"first_ready": AlgoritmoPrimerListo,
		"sjf":         "SJF",
	} {
		cfg := PorDefecto()
		cfg.SchedulerAlgorithm = entrada
		assert.Equal(t, esperado, cfg.Normalizada().SchedulerAlgorithm, "%q", entrada)
	}

	cfg := PorDefecto()
	cfg.SchedulerAlgorithm = ""
	assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalida, "Validate no completa nada por su cuenta")
	assert.NoError(t, cfg.Normalizada().Validate())
}
