package local

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/storage"
)

// Handler serves signed object URLs produced by Gateway.SignURL.
// Read URLs accept GET and HEAD, write URLs accept PUT.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.serveObject)
}

func (g *Gateway) serveObject(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, RoutePrefix)
	if storage.ValidateKey(key) != nil {
		http.Error(w, "invalid object key", http.StatusBadRequest)
		return
	}

	op, disposition, contentType, err := g.verify(key, r.URL.Query())
	if err != nil {
		g.logger.Debug().Err(err).Str("key", key).Msg("rejected signed url")
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	switch {
	case op == storage.OperationRead && (r.Method == http.MethodGet || r.Method == http.MethodHead):
		g.serveRead(w, r, key, disposition)
	case op == storage.OperationWrite && r.Method == http.MethodPut:
		g.serveWrite(w, r, key, contentType)
	default:
		w.Header().Set("Allow", allowedMethod(op))
		http.Error(w, "method not allowed for this url", http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) serveRead(w http.ResponseWriter, r *http.Request, key, disposition string) {
	obj, err := g.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			http.Error(w, "object not found", http.StatusNotFound)
			return
		}
		g.logger.Error().Err(err).Str("key", key).Msg("failed to open object")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	if disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("object stream interrupted")
	}
}

func (g *Gateway) serveWrite(w http.ResponseWriter, r *http.Request, key, signedContentType string) {
	contentType := r.Header.Get("Content-Type")
	if signedContentType != "" && contentType != signedContentType {
		http.Error(w, "content type does not match signature", http.StatusForbidden)
		return
	}
	if contentType == "" {
		contentType = domain.DefaultMimeType
	}

	res, err := g.Put(r.Context(), key, r.Body, r.ContentLength, contentType)
	if err != nil {
		g.logger.Error().Err(err).Str("key", key).Msg("failed to store object")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", `"`+res.Checksum+`"`)
	w.WriteHeader(http.StatusOK)
}

func allowedMethod(op storage.Operation) string {
	if op == storage.OperationWrite {
		return http.MethodPut
	}
	return "GET, HEAD"
}
