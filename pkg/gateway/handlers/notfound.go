package handlers

import (
	"net/http"

	"github.com/vango-go/agrivoice/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, core.NewNotFoundError("no route for "+r.Method+" "+r.URL.Path))
}
