package logueador

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ArchivoExiste verifica si un archivo ya existe en el directorio de trabajo
func ArchivoExiste(nombreArchivo string) bool {
	_, err := os.Stat(nombreArchivo + ".log")
	return !os.IsNotExist(err)
}

// ConfigurarLogger crea logs/<nombre>.log (o logs/<nombre>_N.log si ya existe)
// y manda la salida del logger a ese archivo y a stdout.
func ConfigurarLogger(nombreArchivoLog string, nivelLog string) (*os.File, error) {
	// Crear el directorio logs si no existe
	if _, err := os.Stat("logs"); os.IsNotExist(err) {
		if err := os.MkdirAll("logs", 0755); err != nil {
			return nil, err
		}
	}

	nombreCompleto := "logs/" + nombreArchivoLog
	i := 1
	for ArchivoExiste(nombreCompleto) {
		nombreCompleto = "logs/" + nombreArchivoLog + "_" + strconv.Itoa(i)
		i++
	}

	logFile, err := os.OpenFile(nombreCompleto+".log", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}

	ConfigurarSalida(io.MultiWriter(os.Stdout, logFile), nivelLog)

	Info("Logger %s.log configurado", nombreArchivoLog)
	return logFile, nil
}

// ConfigurarSalida cambia el destino y el nivel del logger sin crear archivos.
func ConfigurarSalida(salida io.Writer, nivelLog string) {
	log.SetOutput(salida)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	log.SetLevel(ParsearNivel(nivelLog))
}

// ParsearNivel traduce el log_level de la config. Lo desconocido queda en INFO.
func ParsearNivel(nivelLog string) log.Level {
	switch strings.ToUpper(nivelLog) {
	case "TRACE":
		return log.TraceLevel
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ---------------------------- Funciones log ----------------------------//
func Info(formato string, args ...any) {
	log.Info(fmt.Sprintf(formato, args...))
}

func Error(formato string, args ...any) {
	log.Error(fmt.Sprintf(formato, args...))
}

func Warn(formato string, args ...any) {
	log.Warn(fmt.Sprintf(formato, args...))
}

func Debug(formato string, args ...any) {
	log.Debug(fmt.Sprintf(formato, args...))
}

// ---------------------------- KERNEL ----------------------------//
// Log obligatorio 1/7
func KernelCreacionDeProceso(pid uint32, nombre string) {
	log.WithFields(log.Fields{"pid": pid, "nombre": nombre}).
		Info(fmt.Sprintf("## (%d) Se crea el proceso - Estado: READY", pid))
}

// Log obligatorio 2/7
func CambioDeEstado(pid uint32, estadoAnterior string, estadoNuevo string) {
	log.WithFields(log.Fields{"pid": pid, "desde": estadoAnterior, "hacia": estadoNuevo}).
		Debug(fmt.Sprintf("## (%d) pasa del estado %s al estado %s", pid, estadoAnterior, estadoNuevo))
}

// Log obligatorio 3/7
func MotivoDeBloqueo(pid uint32, recurso string) {
	log.WithFields(log.Fields{"pid": pid, "recurso": recurso}).
		Debug(fmt.Sprintf("## (%d) - Bloqueado por: %s", pid, recurso))
}

// Log obligatorio 4/7
func CambioDeContexto(desde uint32, hacia uint32, tick uint32) {
	log.WithFields(log.Fields{"desde": desde, "hacia": hacia, "tick": tick}).
		Trace(fmt.Sprintf("## Cambio de contexto (%d) -> (%d)", desde, hacia))
}

// Log obligatorio 5/7
func FinDeProceso(pid uint32) {
	log.WithField("pid", pid).Info(fmt.Sprintf("## (%d) - Finaliza el proceso", pid))
}

// Log obligatorio 6/7
func MetricasDeEstado(pid uint32, conteo map[string]int, tiempo map[string]uint32) {
	// Esto construye el string con todas las métricas
	var metricasString string
	for _, estado := range []string{"READY", "RUNNING", "BLOCKED"} {
		metricasString += fmt.Sprintf("[%s] %d veces, %d ticks; ", estado, conteo[estado], tiempo[estado])
	}

	log.WithField("pid", pid).Info(fmt.Sprintf("## (%d) - Métricas de estado: %s", pid, metricasString))
}

// Log obligatorio 7/7
func ViolacionDeProtocolo(primitiva string, err error) {
	log.WithFields(log.Fields{"primitiva": primitiva, "error": err}).
		Error(fmt.Sprintf("## Violación de protocolo en %s: %v", primitiva, err))
}
