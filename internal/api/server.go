// Package api serves a geocascade lookup client over HTTP. geoclient is its
// counterpart.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/andreiashu/geocascade"
	"github.com/andreiashu/geocascade/internal/logger"
	"github.com/andreiashu/geocascade/internal/metrics"
)

// Routes served by NewRouter.
const (
	PathSuggest = "/api/v1/suggest/{field}"
	PathPincode = "/api/v1/pincode/{code}"
	PathNearest = "/api/v1/nearest"
	PathHealth  = "/api/v1/health"
	PathMetrics = "/metrics"
)

// SuggestResponse is the body of a suggest call.
type SuggestResponse struct {
	Field       string                  `json:"field"`
	Query       string                  `json:"query"`
	Suggestions []geocascade.Suggestion `json:"suggestions"`
}

// ErrorResponse is the body of every failed call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Options configures the router.
type Options struct {
	Client      geocascade.GeoLookupClient
	CORSOrigins []string
	Logger      *slog.Logger
	// Ready reports backend health for /api/v1/health; nil means always ready.
	Ready func() error
}

type server struct {
	client geocascade.GeoLookupClient
	log    *slog.Logger
	ready  func() error
}

// NewRouter builds the lookup service handler.
func NewRouter(o Options) http.Handler {
	s := &server{client: o.Client, log: o.Logger, ready: o.Ready}
	if s.log == nil {
		s.log = logger.L()
	}

	r := mux.NewRouter()
	r.Use(recovery(s.log))
	r.Use(logger.AccessMiddleware(s.log))

	r.Handle(PathSuggest, s.instrument("suggest", s.suggest)).Methods(http.MethodGet)
	r.Handle(PathPincode, s.instrument("pincode", s.pincode)).Methods(http.MethodGet)
	r.Handle(PathNearest, s.instrument("nearest", s.nearest)).Methods(http.MethodGet)
	r.HandleFunc(PathHealth, s.health).Methods(http.MethodGet)
	r.Handle(PathMetrics, metrics.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "no such route")
	})

	origins := o.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Origin", "X-Requested-With"},
		MaxAge:         86400,
	})
	return c.Handler(r)
}

// recovery turns a handler panic into a 500.
func recovery(l *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					l.Error("http_panic", "path", r.URL.Path, "err", err, "stack", string(debug.Stack()))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status/100)+"xx").Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: status})
}

// lookupStatus maps a client error to an HTTP status.
func lookupStatus(err error) int {
	switch {
	case errors.Is(err, geocascade.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, geocascade.ErrInvalidPincode), errors.Is(err, geocascade.ErrInvalidCoordinates),
		errors.Is(err, geocascade.ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, geocascade.ErrUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusBadGateway
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := lookupStatus(err)
	if status == http.StatusBadGateway {
		s.log.Warn("api_lookup_failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

// suggest answers GET /api/v1/suggest/{field}?q=&country=&state=&district=&city=.
// Constraint parameters accept codes or names.
func (s *server) suggest(w http.ResponseWriter, r *http.Request) {
	f, err := geocascade.ParseField(mux.Vars(r)["field"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	prefix := strings.TrimSpace(q.Get("q"))
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	country, state, district, city := q.Get("country"), q.Get("state"), q.Get("district"), q.Get("city")

	ctx := r.Context()
	var res []geocascade.Suggestion
	switch f {
	case geocascade.Country:
		res, err = s.client.SuggestCountry(ctx, prefix)
	case geocascade.State:
		res, err = s.client.SuggestState(ctx, prefix, country)
	case geocascade.District:
		res, err = s.client.SuggestDistrict(ctx, prefix, state)
	case geocascade.City:
		res, err = s.client.SuggestCity(ctx, prefix, state, district)
	case geocascade.Pincode:
		res, err = s.client.SuggestPincode(ctx, prefix, state, district)
	case geocascade.Taluk, geocascade.Locality:
		ls, ok := s.client.(geocascade.LocalitySuggester)
		if !ok {
			err = geocascade.ErrUnsupported
		} else if f == geocascade.Taluk {
			res, err = ls.SuggestTaluk(ctx, prefix, district)
		} else {
			res, err = ls.SuggestLocality(ctx, prefix, district, city)
		}
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res == nil {
		res = []geocascade.Suggestion{}
	}
	writeJSON(w, http.StatusOK, SuggestResponse{Field: f.String(), Query: prefix, Suggestions: res})
}

func (s *server) pincode(w http.ResponseWriter, r *http.Request) {
	addr, err := s.client.ResolvePincode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (s *server) nearest(w http.ResponseWriter, r *http.Request) {
	cr, ok := s.client.(geocascade.CoordinateResolver)
	if !ok {
		s.fail(w, r, geocascade.ErrUnsupported)
		return
	}
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil || !geocascade.ValidCoordinates(lat, lng) {
		s.fail(w, r, geocascade.ErrInvalidCoordinates)
		return
	}
	addr, err := cr.NearestPincode(r.Context(), lat, lng)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
