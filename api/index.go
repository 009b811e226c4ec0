// Package handler is the serverless entry point. The platform calls Handler
// for every request; the application is built on first use.
package handler

import (
	"net/http"
	"sync"

	"manifest-extractor-go/internal/app"
)

var (
	once    sync.Once
	handler http.Handler
	initErr error
)

// Handler serves one request through the full middleware chain.
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		a, err := app.New("")
		if err != nil {
			initErr = err
			return
		}
		handler = a.Handler()
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"Internal Server Error"}`))
		return
	}
	handler.ServeHTTP(w, r)
}
