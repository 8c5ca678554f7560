package push

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotSupported     = errors.New("push notifications not supported")
	ErrPermissionDenied = errors.New("push permission denied")
	ErrInvalidState     = errors.New("invalid push channel state")
	ErrNotConfigured    = errors.New("push not configured")

	// ErrExpired is returned when the push service answers 404 or 410 for an
	// endpoint.
	ErrExpired = errors.New("push subscription expired")
)

// RelayError reports a failed call to the push relay. StatusCode is 0 when
// the request never got a response.
type RelayError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RelayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("push relay: %v", e.Err)
	case e.Message != "":
		return fmt.Sprintf("push relay: status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("push relay: status %d", e.StatusCode)
	}
}

func (e *RelayError) Unwrap() error { return e.Err }

// Guidance returns text the UI can show to explain err and how to fix it.
// browser is the user agent family ("chrome", "firefox", "safari", "edge");
// unknown values get generic steps.
func Guidance(err error, browser string) string {
	var relayErr *RelayError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotSupported):
		return "Tu navegador no admite notificaciones push. Usa la versión más reciente de Chrome, Edge o Firefox. " +
			"En iPhone o iPad agrega la app a la pantalla de inicio (iOS 16.4 o superior) y ábrela desde allí."
	case errors.Is(err, ErrPermissionDenied):
		return "Las notificaciones están bloqueadas para este sitio. " + permissionSteps(browser)
	case errors.As(err, &relayErr):
		if relayErr.StatusCode >= 500 || relayErr.StatusCode == 0 {
			return "No pudimos contactar al servidor de notificaciones. Revisa tu conexión e inténtalo de nuevo en unos minutos."
		}
		return "El servidor rechazó la notificación de prueba. Desactiva y vuelve a activar las notificaciones en Ajustes."
	case errors.Is(err, ErrInvalidState):
		return "Primero activa las notificaciones con el botón \"Permitir notificaciones\"."
	case errors.Is(err, ErrNotConfigured):
		return "Las notificaciones push no están disponibles en este servidor. Contacta al equipo de la guardería."
	}
	return "Ocurrió un error inesperado con las notificaciones. Inténtalo de nuevo."
}

var browserSteps = map[string]string{
	"chrome":  "Haz clic en el ícono del candado junto a la dirección, abre \"Configuración del sitio\" y cambia Notificaciones a \"Permitir\". Luego recarga la página.",
	"edge":    "Haz clic en el candado junto a la dirección, elige \"Permisos para este sitio\" y cambia Notificaciones a \"Permitir\". Luego recarga la página.",
	"firefox": "Haz clic en el ícono de permisos a la izquierda de la dirección, quita el bloqueo de \"Enviar notificaciones\" y recarga la página.",
	"safari":  "Abre Safari > Configuración > Sitios web > Notificaciones, busca este sitio y elige \"Permitir\". En iPhone: Ajustes > Notificaciones > Kennel.",
}

func permissionSteps(browser string) string {
	if s, ok := browserSteps[strings.ToLower(browser)]; ok {
		return s
	}
	return "Abre la configuración de tu navegador, busca los permisos de este sitio y permite las notificaciones. Luego recarga la página."
}
