package httpserver

import (
	"net/http"
	"time"

	"bizportal/internal/platform/config"
)

// writeSlack is added to the request timeout so the Timeout middleware can
// still write its 503 before the connection is cut.
const writeSlack = 15 * time.Second

func New(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + writeSlack,
		IdleTimeout:       2 * time.Minute,
	}
}
