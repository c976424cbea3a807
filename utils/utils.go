package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"azzaros/utils/logueador"
	"azzaros/utils/structs"
)

// EnviarMensaje hace un POST con mensaje en JSON y devuelve el campo mensaje
// de la respuesta.
func EnviarMensaje(ip string, puerto int, endpoint string, mensaje any) (string, error) {
	body, err := json.Marshal(mensaje)
	if err != nil {
		logueador.Error("No se pudo codificar el mensaje (%v)", err)
		return "", err
	}

	url := fmt.Sprintf("http://%s:%d/%s", ip, puerto, endpoint)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		logueador.Error("No se pudo enviar mensaje a %s:%d/%s (%v)", ip, puerto, endpoint, err)
		return "", err
	}
	defer resp.Body.Close()

	var resData structs.Respuesta
	respuesta, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(respuesta, &resData); err != nil {
		return "", err
	}

	logueador.Debug("Respuesta de %s:%d/%s %v", ip, puerto, endpoint, resData)
	if resp.StatusCode != http.StatusOK {
		return resData.Mensaje, fmt.Errorf("%s: %s", resp.Status, resData.Mensaje)
	}
	return resData.Mensaje, nil
}

// ConsultarJSON hace un GET y decodifica el cuerpo en T.
func ConsultarJSON[T any](ip string, puerto int, endpoint string) (*T, error) {
	url := fmt.Sprintf("http://%s:%d/%s", ip, puerto, endpoint)
	resp, err := http.Get(url)
	if err != nil {
		logueador.Error("No se pudo consultar %s (%v)", url, err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("consulta a %s: %s", url, resp.Status)
	}
	var dato T
	if err := json.NewDecoder(resp.Body).Decode(&dato); err != nil {
		return nil, err
	}
	return &dato, nil
}

// Función genérica para decodificar un mensaje del body
func DecodificarMensaje[T any](r *http.Request) (*T, error) {
	var mensaje T
	decoder := json.NewDecoder(r.Body)
	err := decoder.Decode(&mensaje)
	if err != nil {
		return nil, err
	}
	return &mensaje, nil
}

// ResponderJSON escribe v como cuerpo con el status dado.
func ResponderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logueador.Error("No se pudo codificar la respuesta (%v)", err)
	}
}

// ResponderMensaje es ResponderJSON con una structs.Respuesta.
func ResponderMensaje(w http.ResponseWriter, status int, mensaje string) {
	ResponderJSON(w, status, structs.Respuesta{Mensaje: mensaje})
}

// IniciarServidor atiende hasta que ctx se cancele y despues cierra el
// servidor esperando a los pedidos en curso.
func IniciarServidor(ctx context.Context, ip string, puerto int, handler http.Handler) error {
	servidor := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", ip, puerto),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logueador.Info("Inicializando servidor en %s", servidor.Addr)
		errCh <- servidor.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	apagado, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := servidor.Shutdown(apagado); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logueador.Info("Servidor en %s detenido", servidor.Addr)
	return nil
}
