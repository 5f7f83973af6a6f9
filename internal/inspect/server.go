// Package inspect serves a read-only JSON view of a running session: the
// network topology, per-layer weight statistics, cached activations, the
// training counters and the loss curve.
package inspect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"neuron/internal/nn"
	"neuron/internal/platform"
	"neuron/internal/stats"
)

const (
	defaultLossWindow = 50
	shutdownTimeout   = 5 * time.Second
)

type Server struct {
	session *platform.Session
	log     *slog.Logger
	engine  *gin.Engine
}

// LayerView summarises the incoming weights and biases of one layer.
type LayerView struct {
	Index      int           `json:"index"`
	Inputs     int           `json:"inputs"`
	Neurons    int           `json:"neurons"`
	Weights    stats.Summary `json:"weights"`
	Biases     stats.Summary `json:"biases"`
	Flashing   int           `json:"flashing"`
	Activation stats.Summary `json:"activation"`
}

type NetworkView struct {
	Tier            string      `json:"tier"`
	Sizes           []int       `json:"sizes"`
	Parameters      int         `json:"parameters"`
	MemoryFootprint int         `json:"memory_footprint"`
	UpdateSteps     int         `json:"update_steps"`
	Layers          []LayerView `json:"layers"`
}

type LossView struct {
	Values  []float32     `json:"values"`
	Summary stats.Summary `json:"summary"`
	Window  int           `json:"window"`
	Windows []float64     `json:"windows"`
}

type QValuesRequest struct {
	State []float32 `json:"state" binding:"required"`
}

type QValuesResponse struct {
	QValues    []float32 `json:"q_values"`
	BestAction int       `json:"best_action"`
}

func New(session *platform.Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{session: session, log: logger}

	engine := gin.New()
	engine.Use(gin.Recovery())
	s.setupRoutes(engine)
	s.engine = engine
	return s
}

func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/network", s.handleNetwork)
	r.GET("/activations", s.handleActivations)
	r.GET("/stats", s.handleStats)
	r.GET("/loss", s.handleLoss)
	r.POST("/q-values", s.handleQValues)
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("inspect server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.session.Snapshot()
	body := gin.H{
		"status": "ok",
		"scape":  snap.Scape,
		"tier":   snap.Tier,
		"steps":  snap.Stats.Steps,
	}
	if usage, err := ProcessUsage(); err == nil {
		body["process"] = usage
	} else {
		s.log.Debug("process usage unavailable", "err", err)
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleNetwork(c *gin.Context) {
	var view NetworkView
	err := s.session.WithNetwork(func(net *nn.Network) error {
		view = describeNetwork(net)
		return nil
	})
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	view.Tier = s.session.Tier().String()
	c.JSON(http.StatusOK, view)
}

func describeNetwork(net *nn.Network) NetworkView {
	sizes := net.Sizes()
	view := NetworkView{
		Sizes:           sizes,
		Parameters:      net.ParameterCount(),
		MemoryFootprint: net.MemoryFootprint(),
		UpdateSteps:     net.Step(),
		Layers:          make([]LayerView, 0, len(sizes)-1),
	}
	for l := 1; l < len(sizes); l++ {
		weights := make([]float32, 0, sizes[l]*sizes[l-1])
		biases := make([]float32, sizes[l])
		flashing := 0
		for to := 0; to < sizes[l]; to++ {
			biases[to] = net.Bias(l, to)
			for from := 0; from < sizes[l-1]; from++ {
				weights = append(weights, net.Weight(l, to, from))
				if net.Flash(l, to, from) > 0 {
					flashing++
				}
			}
		}
		acts := make([]float32, sizes[l])
		net.ActivationsInto(l, acts)
		view.Layers = append(view.Layers, LayerView{
			Index:      l,
			Inputs:     sizes[l-1],
			Neurons:    sizes[l],
			Weights:    stats.Summarize(weights),
			Biases:     stats.Summarize(biases),
			Flashing:   flashing,
			Activation: stats.Summarize(acts),
		})
	}
	return view
}

func (s *Server) handleActivations(c *gin.Context) {
	var layers [][]float32
	err := s.session.WithNetwork(func(net *nn.Network) error {
		sizes := net.Sizes()
		layers = make([][]float32, len(sizes))
		for l, n := range sizes {
			layers[l] = make([]float32, n)
			net.ActivationsInto(l, layers[l])
		}
		return nil
	})
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"layers": layers})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleLoss(c *gin.Context) {
	window := defaultLossWindow
	if raw := c.Query("window"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive integer"})
			return
		}
		window = v
	}
	values := s.session.LossHistory()
	c.JSON(http.StatusOK, LossView{
		Values:  values,
		Summary: stats.Summarize(values),
		Window:  window,
		Windows: stats.WindowMeans(values, window),
	})
}

func (s *Server) handleQValues(c *gin.Context) {
	var req QValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	q, err := s.session.QValues(req.State)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, nn.ErrInputWidth) {
			status = http.StatusBadRequest
		}
		s.fail(c, status, err)
		return
	}
	best := 0
	for i := range q {
		if q[i] > q[best] {
			best = i
		}
	}
	c.JSON(http.StatusOK, QValuesResponse{QValues: q, BestAction: best})
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("inspect request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
