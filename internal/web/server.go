// Package web provides the HTTP status page and command endpoints.
package web

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/smart-thermostat/internal/pid"
	"github.com/sweeney/smart-thermostat/internal/status"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

const maxBody = 64 << 10

// Commander applies a command to the running thermostat.
type Commander interface {
	Apply(ctx context.Context, c thermostat.Command) error
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commander  Commander
}

// New creates a Server that reads state from tracker. A nil commander
// makes the server read-only.
func New(addr string, tracker *status.Tracker, commander Commander) *Server {
	s := &Server{tracker: tracker, commander: commander}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/set", s.handleForm)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request multiplexer.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Error().Err(err).Msg("render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleCommand applies a JSON command and answers with the new status.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.allowCommand(w, r) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := thermostat.DecodeCommand(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.apply(w, r, cmd) {
		return
	}
	s.handleJSON(w, r)
}

// handleForm applies the status page form and redirects back to it.
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	if !s.allowCommand(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := formCommand(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !cmd.Empty() && !s.apply(w, r, cmd) {
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) allowCommand(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if s.commander == nil {
		http.Error(w, "commands disabled", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request, cmd thermostat.Command) bool {
	err := s.commander.Apply(r.Context(), cmd)
	if err == nil {
		return true
	}
	code := http.StatusInternalServerError
	if invalid(err) {
		code = http.StatusBadRequest
	}
	log.Warn().Err(err).Int("code", code).Msg("command failed")
	http.Error(w, err.Error(), code)
	return false
}

// formCommand builds a command from the status page form. A target
// temperature overrides the preset selection.
func formCommand(r *http.Request) (thermostat.Command, error) {
	var cmd thermostat.Command
	if v := strings.TrimSpace(r.PostFormValue("hvac_mode")); v != "" {
		mode, err := thermostat.ParseHVACMode(v)
		if err != nil {
			return cmd, err
		}
		cmd.HVACMode = &mode
	}
	if v := strings.TrimSpace(r.PostFormValue("target_temp")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cmd, errors.New("target_temp: not a number")
		}
		cmd.TargetTemp = &f
		return cmd, nil
	}
	if v := strings.TrimSpace(r.PostFormValue("preset")); v != "" {
		p, err := thermostat.ParsePreset(v)
		if err != nil {
			return cmd, err
		}
		cmd.Preset = &p
	}
	return cmd, nil
}

func invalid(err error) bool {
	for _, target := range []error{
		thermostat.ErrUnknownHVACMode,
		thermostat.ErrUnknownPreset,
		thermostat.ErrInvalidValue,
		pid.ErrUnknownMode,
		pid.ErrInvalidIntegral,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
