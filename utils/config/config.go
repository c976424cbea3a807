package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"azzaros/utils/logueador"
)

// Algoritmos de planificacion soportados
const (
	AlgoritmoPrimerListo = "FIRST_READY"
	AlgoritmoRoundRobin  = "RR"
)

// Limites duros del kernel
const (
	MaxProcesosLimite   = 256
	MaxTareasLimite     = 256
	MaxMensajesLimite   = 64
	MaxTamMensajeLimite = 1024
)

var ErrConfigInvalida = errors.New("configuracion invalida")

// ----------------------------------- CONFIGS --------------------------------------------------
type ConfigKernel struct {
	IPKernel           string `json:"ip_kernel"`
	PortKernel         int    `json:"port_kernel"`
	SchedulerAlgorithm string `json:"scheduler_algorithm"`
	Quantum            uint32 `json:"quantum"`
	TickIntervalMs     int    `json:"tick_interval_ms"`
	MaxProcesses       int    `json:"max_processes"`
	MaxTasks           int    `json:"max_tasks"`
	StackSize          int    `json:"stack_size"`
	HeapSize           int    `json:"heap_size"`
	PipeCapacity       int    `json:"pipe_capacity"`
	MaxMessages        int    `json:"max_messages"`
	MaxMessageSize     int    `json:"max_message_size"`
	LogLevel           string `json:"log_level"`
}

// PorDefecto devuelve la configuracion con la que arranca el kernel si el
// archivo no define un campo.
func PorDefecto() ConfigKernel {
	return ConfigKernel{
		IPKernel:           "127.0.0.1",
		SchedulerAlgorithm: AlgoritmoPrimerListo,
		Quantum:            10,
		TickIntervalMs:     10,
		MaxProcesses:       MaxProcesosLimite,
		MaxTasks:           MaxTareasLimite,
		StackSize:          16 * 1024,
		HeapSize:           8 * 1024 * 1024,
		PipeCapacity:       4096,
		MaxMessages:        MaxMensajesLimite,
		MaxMessageSize:     MaxTamMensajeLimite,
		LogLevel:           "INFO",
	}
}

// Normalizada pasa el algoritmo a mayusculas y, si falta, usa FIRST_READY.
func (c ConfigKernel) Normalizada() ConfigKernel {
	c.SchedulerAlgorithm = strings.ToUpper(strings.TrimSpace(c.SchedulerAlgorithm))
	if c.SchedulerAlgorithm == "" {
		c.SchedulerAlgorithm = AlgoritmoPrimerListo
	}
	return c
}

// Validate revisa que los valores esten dentro de los limites duros.
func (c ConfigKernel) Validate() error {
	switch strings.ToUpper(c.SchedulerAlgorithm) {
	case AlgoritmoPrimerListo, AlgoritmoRoundRobin:
	default:
		return fmt.Errorf("%w: algoritmo de planificacion %q", ErrConfigInvalida, c.SchedulerAlgorithm)
	}
	if c.Quantum == 0 {
		return fmt.Errorf("%w: quantum debe ser positivo", ErrConfigInvalida)
	}
	if c.MaxProcesses <= 0 || c.MaxProcesses > MaxProcesosLimite {
		return fmt.Errorf("%w: max_processes fuera de rango (%d)", ErrConfigInvalida, c.MaxProcesses)
	}
	if c.MaxTasks <= 0 || c.MaxTasks > MaxTareasLimite {
		return fmt.Errorf("%w: max_tasks fuera de rango (%d)", ErrConfigInvalida, c.MaxTasks)
	}
	if c.StackSize <= 0 {
		return fmt.Errorf("%w: stack_size debe ser positivo", ErrConfigInvalida)
	}
	if c.HeapSize <= 0 {
		return fmt.Errorf("%w: heap_size debe ser positivo", ErrConfigInvalida)
	}
	if c.PipeCapacity <= 0 {
		return fmt.Errorf("%w: pipe_capacity debe ser positivo", ErrConfigInvalida)
	}
	if c.MaxMessages <= 0 || c.MaxMessages > MaxMensajesLimite {
		return fmt.Errorf("%w: max_messages fuera de rango (%d)", ErrConfigInvalida, c.MaxMessages)
	}
	if c.MaxMessageSize <= 0 || c.MaxMessageSize > MaxTamMensajeLimite {
		return fmt.Errorf("%w: max_message_size fuera de rango (%d)", ErrConfigInvalida, c.MaxMessageSize)
	}
	return nil
}

// ------------------------------------------------------------------------------------------------
// CargarConfiguracion lee el JSON de filePath sobre los valores por defecto.
func CargarConfiguracion(filePath string) (ConfigKernel, error) {
	CargarVariablesEntorno(".env")

	cfg := PorDefecto()

	fileContent, err := os.ReadFile(filePath)
	if err != nil {
		logueador.Error("No se pudo leer el archivo de configuración (%v)", err)
		return cfg, err
	}

	// Expand environment variables
	expandedContent := expandEnvWithMath(string(fileContent))

	// Decode the expanded JSON
	if err := json.Unmarshal([]byte(expandedContent), &cfg); err != nil {
		logueador.Error("No se pudo decodificar el archivo JSON (%v)", err)
		return cfg, err
	}

	cfg = cfg.Normalizada()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	logueador.Info("Configuración cargada correctamente: %+v", cfg)
	return cfg, nil
}

// ----------------------------------------------- UTILIDADES .ENV --------------------------------------------

func CargarVariablesEntorno(envPath string) {
	file, err := os.Open(envPath)
	if err != nil {
		logueador.Debug("No se pudo abrir el archivo .env (%v), usando variables de entorno del sistema", err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Split on first '=' only
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			// Only set if not already set in environment
			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		logueador.Error("Error leyendo archivo .env: %v", err)
	}
}

var reEnvConOffset = regexp.MustCompile(`\$\{([^}+-]+)([+-]\d+)\}`)

// Esto carga la variable de entorno si le metemos un operador de offset como + o -
// Ejemplo ${PORT_KERNEL+1000} = 8000 + 1000 = 9000
func expandEnvWithMath(content string) string {
	content = reEnvConOffset.ReplaceAllStringFunc(content, func(match string) string {
		parts := reEnvConOffset.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}

		varName := parts[1]
		operation := parts[2]

		envValue := os.Getenv(varName)
		if envValue == "" {
			logueador.Warn("Variable de entorno %s no encontrada para operación %s", varName, operation)
			return match
		}

		baseValue, err := strconv.Atoi(envValue)
		if err != nil {
			logueador.Warn("No se pudo convertir %s a número para la variable %s", envValue, varName)
			return match
		}

		// El signo viaja con el operando
		operand, err := strconv.Atoi(operation)
		if err != nil {
			logueador.Warn("No se pudo convertir %s a número", operation)
			return match
		}

		return strconv.Itoa(baseValue + operand)
	})

	// Luego expandir variables normales (${VAR})
	return os.ExpandEnv(content)
}
