package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"metacal/internal/catalog"
	"metacal/internal/config"
	"metacal/internal/ics"
	appLog "metacal/internal/log"
	"metacal/internal/model"
	"metacal/internal/timeline"
)

const (
	maxNext   = 500
	maxWindow = 31 * 24 * time.Hour
)

// Server provides the HTTP JSON API over a meta catalog.
type Server struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	mux     *http.ServeMux

	now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, cat *catalog.Catalog) *Server {
	s := &Server{
		cfg:     cfg,
		catalog: cat,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials leave auth disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="metacal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, cat *catalog.Catalog) error {
	s := NewServer(cfg, cat)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen, "metas", cat.Len())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/metas", s.handleMetas)
	s.mux.HandleFunc("GET /api/metas/{key}", s.handleMeta)
	s.mux.HandleFunc("GET /api/metas/{key}/now", s.handleNow)
	s.mux.HandleFunc("GET /api/metas/{key}/next", s.handleNext)
	s.mux.HandleFunc("GET /api/metas/{key}/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is a JSON-friendly view of a schedule.
type eventDTO struct {
	Name             string `json:"name"`
	Offset           string `json:"offset"`
	FrequencyMinutes int64  `json:"frequency_minutes"`
	LengthMinutes    int64  `json:"length_minutes"`
}

type metaDTO struct {
	Key      string     `json:"key"`
	Name     string     `json:"name"`
	Category string     `json:"category"`
	Events   []eventDTO `json:"events"`
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	Meta     string    `json:"meta"`
	MetaName string    `json:"meta_name"`
	Category string    `json:"category"`
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type nowResponse struct {
	Meta   string         `json:"meta"`
	At     time.Time      `json:"at"`
	Active *occurrenceDTO `json:"active"`
}

type nextResponse struct {
	Meta        string          `json:"meta"`
	At          time.Time       `json:"at"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences    []occurrenceDTO `json:"occurrences"`
	TruncatedMetas []string        `json:"truncated_metas,omitempty"`
	RangeStart     time.Time       `json:"range_start"`
	RangeEnd       time.Time       `json:"range_end"`
}

func (s *Server) handleMetas(w http.ResponseWriter, _ *http.Request) {
	metas := s.catalog.Metas()
	dtos := make([]metaDTO, 0, len(metas))
	for _, m := range metas {
		dtos = append(dtos, toMetaDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toMetaDTO(m))
}

// handleNow reports the active event of a meta.
//
// GET /api/metas/{key}/now?at=2024-03-01T08:50:00Z
func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}
	at, err := parseTime(r.URL.Query().Get("at"), s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := timeline.StatusAt(m, at, 0)
	if err != nil {
		appLog.Error("api now: status failed", err, "meta", m.Key)
		writeError(w, http.StatusInternalServerError, "failed to evaluate meta")
		return
	}

	resp := nowResponse{Meta: m.Key, At: st.At}
	if active, ok := st.Active.Get(); ok {
		dto := toOccurrenceDTO(active)
		resp.Active = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNext lists the upcoming occurrences of a meta.
//
// GET /api/metas/{key}/next?at=...&n=5
//   - n: 1..500, defaults to config upcoming
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	at, err := parseTime(q.Get("at"), s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := parseIntDefault(q.Get("n"), s.cfg.Upcoming)
	if err != nil || n < 1 || n > maxNext {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("n must be an integer in 1..%d", maxNext))
		return
	}

	st, err := timeline.StatusAt(m, at, n)
	if err != nil {
		appLog.Error("api next: status failed", err, "meta", m.Key)
		writeError(w, http.StatusInternalServerError, "failed to evaluate meta")
		return
	}
	writeJSON(w, http.StatusOK, nextResponse{
		Meta:        m.Key,
		At:          st.At,
		Occurrences: toOccurrenceDTOs(st.Upcoming),
	})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.ics"`, m.Key))
	w.WriteHeader(http.StatusOK)
	if err := ics.WriteCalendar(w, []model.Meta{m}, ics.ExportOptions{Day: s.now(), Name: m.Name}); err != nil {
		appLog.Error("api calendar: write failed", err, "meta", m.Key)
	}
}

// handleOccurrences expands metas over a time window.
//
// GET /api/occurrences?from=...&to=...&meta=world_bosses,dry_top
//   - from: RFC3339, defaults to now
//   - to:   RFC3339, defaults to from + 24h, at most 31 days after from
//   - meta: comma-separated keys, defaults to config metas (or all)
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTime(q.Get("from"), s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime(q.Get("to"), from.Add(24*time.Hour))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}
	if to.Sub(from) > maxWindow {
		writeError(w, http.StatusBadRequest, "window exceeds 31 days")
		return
	}

	keys := s.cfg.Metas
	if raw := q.Get("meta"); raw != "" {
		keys = splitKeys(raw)
	}
	metas, err := s.catalog.Select(keys)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	appLog.Debug("api occurrences request",
		"range_start", from.Format(time.RFC3339),
		"range_end", to.Format(time.RFC3339),
		"metas", len(metas),
	)

	res, err := timeline.Expand(metas, timeline.ExpandConfig{RangeStart: from, RangeEnd: to})
	if err != nil {
		appLog.Error("api occurrences: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand occurrences")
		return
	}

	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences:    toOccurrenceDTOs(res.Occurrences),
		TruncatedMetas: res.Truncated,
		RangeStart:     from.UTC(),
		RangeEnd:       to.UTC(),
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (model.Meta, bool) {
	key := r.PathValue("key")
	m, ok := s.catalog.Lookup(key)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", catalog.ErrUnknownMeta, key))
		return model.Meta{}, false
	}
	return m, true
}

func parseTime(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339", raw)
	}
	return t, nil
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func toMetaDTO(m model.Meta) metaDTO {
	dto := metaDTO{Key: m.Key, Name: m.Name, Category: m.Category, Events: make([]eventDTO, 0, len(m.Schedules))}
	for _, s := range m.Schedules {
		dto.Events = append(dto.Events, eventDTO{
			Name:             s.Name,
			Offset:           model.FormatClock(s.Offset),
			FrequencyMinutes: int64(s.Frequency / time.Minute),
			LengthMinutes:    int64(s.Length / time.Minute),
		})
	}
	return dto
}

func toOccurrenceDTO(o model.Occurrence) occurrenceDTO {
	return occurrenceDTO{
		Meta:     o.MetaKey,
		MetaName: o.MetaName,
		Category: o.Category,
		Name:     o.Name,
		Start:    o.Start,
		End:      o.End,
	}
}

func toOccurrenceDTOs(occ []model.Occurrence) []occurrenceDTO {
	dtos := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		dtos = append(dtos, toOccurrenceDTO(o))
	}
	return dtos
}

func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
