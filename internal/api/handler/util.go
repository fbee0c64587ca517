package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cryptomedia/wallet-ledger/internal/api/middleware"
	"github.com/cryptomedia/wallet-ledger/internal/api/problem"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// Admins decides who may act on other users' records.
type Admins interface {
	IsAdmin(actorID uuid.UUID) bool
}

func requestActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
	}
	return actor, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

// page reads limit/offset query parameters with sane bounds.
func page(r *http.Request) (limit, offset int32) {
	l := queryInt(r, "limit", 50)
	if l < 1 || l > 200 {
		l = 50
	}
	o := queryInt(r, "offset", 0)
	if o < 0 {
		o = 0
	}
	return int32(l), int32(o)
}
