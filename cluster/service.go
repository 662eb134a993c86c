package cluster

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tsawler/go-nabu/checkpoints"
	"github.com/tsawler/go-nabu/training"
)

// Service exposes a ParameterServer over HTTP
type Service struct {
	server *ParameterServer
	engine *gin.Engine
	logger *log.Logger
}

// NewService creates the HTTP API of server
func NewService(server *ParameterServer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Service{
		server: server,
		engine: engine,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Service) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, statusResponse{Status: "ok"})
	})

	s.engine.GET("/step", s.handleStep)
	s.engine.POST("/gradients", s.handleGradients)
	s.engine.GET("/parameters", s.handleParameters)
	s.engine.GET("/optimizer", s.handleOptimizer)
	s.engine.GET("/state", s.handleState)

	reader := s.engine.Group("/reader")
	reader.POST("/acquire", s.handleAcquire)
	reader.POST("/release", s.handleRelease)

	s.engine.GET("/position", s.handlePosition)
	s.engine.PUT("/position", s.handleSetPosition)

	validation := s.engine.Group("/validation")
	validation.POST("/claim", s.handleClaim)
	validation.GET("/loss", s.handleLoss)
	validation.PUT("/loss", s.handleSetLoss)

	s.engine.POST("/lr/halve", s.handleHalve)
	s.engine.PUT("/sparsity", s.handleSparsity)
}

// Handler returns the HTTP handler of the service
func (s *Service) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Service) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("serving parameter server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Printf("parameter server stopped")
		return nil
	}
}

func (s *Service) fail(c *gin.Context, status int, err error) {
	c.JSON(status, errorResponse{Error: err.Error()})
}

func (s *Service) handleStep(c *gin.Context) {
	c.JSON(http.StatusOK, stepMessage{Step: s.server.store.GlobalStep()})
}

func (s *Service) handleGradients(c *gin.Context) {
	var req gradientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	update, err := s.server.Submit(c.Request.Context(), req.Replica, req.Step, req.Gradients)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, update)
	case errors.Is(err, training.ErrStaleStep):
		s.logger.Printf("stale gradient from %s: %v", req.Replica, err)
		s.fail(c, http.StatusConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.fail(c, http.StatusRequestTimeout, err)
	default:
		s.logger.Printf("failed to apply gradients from %s: %v", req.Replica, err)
		s.fail(c, http.StatusInternalServerError, err)
	}
}

func (s *Service) handleParameters(c *gin.Context) {
	c.JSON(http.StatusOK, parametersMessage{Parameters: s.server.Parameters()})
}

func (s *Service) handleOptimizer(c *gin.Context) {
	state, err := s.server.OptimizerState()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, optimizerMessage{State: state})
}

func (s *Service) handleState(c *gin.Context) {
	state := s.server.store.Snapshot()
	c.JSON(http.StatusOK, stateMessage{State: state.Durable(), Reading: state.Reading})
}

// handleAcquire holds the request until the reader lock is free. A lock
// taken for a client that has already gone away is handed straight back.
func (s *Service) handleAcquire(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.server.store.AcquireReader(ctx); err != nil {
		s.fail(c, http.StatusRequestTimeout, err)
		return
	}
	if ctx.Err() != nil {
		s.server.store.ReleaseReader()
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "acquired"})
}

func (s *Service) handleRelease(c *gin.Context) {
	s.server.store.ReleaseReader()
	c.JSON(http.StatusOK, statusResponse{Status: "released"})
}

func (s *Service) handlePosition(c *gin.Context) {
	c.JSON(http.StatusOK, positionMessage{Position: s.server.store.Position()})
}

func (s *Service) handleSetPosition(c *gin.Context) {
	var req positionMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.server.store.SetPosition(req.Position); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Service) handleClaim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	claimed, err := s.server.store.ClaimValidation(req.Step, req.Frequency)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, claimResponse{Claimed: claimed})
}

func (s *Service) handleLoss(c *gin.Context) {
	c.JSON(http.StatusOK, lossMessage{Loss: checkpoints.EncodeLoss(s.server.store.ValidationLoss())})
}

func (s *Service) handleSetLoss(c *gin.Context) {
	var req lossMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.server.store.SetValidationLoss(checkpoints.DecodeLoss(req.Loss)); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Service) handleHalve(c *gin.Context) {
	factor, err := s.server.store.HalveLearningRate()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	s.logger.Printf("learning rate factor halved to %g", factor)
	c.JSON(http.StatusOK, factorMessage{Factor: factor})
}

func (s *Service) handleSparsity(c *gin.Context) {
	var req factorMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.server.store.SetSparsityFactor(req.Factor); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
