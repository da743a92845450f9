// Package server runs searches submitted over a REST API and streams their
// progress over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/search"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/storage"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// StatusQueued marks a job waiting for a worker
const StatusQueued types.SearchStatus = "queued"

// EventJobFinished is the last event of a job stream; its data is the final
// JobStatus
const EventJobFinished = "job_finished"

// Session is a prepared search. *search.Search satisfies it.
type Session interface {
	Subscribe(id string) <-chan *search.Event
	Unsubscribe(id string, ch <-chan *search.Event)
	Run(ctx context.Context, id string) (*types.SearchResult, error)
}

// Factory prepares the session of a submitted request. It runs on the job
// worker, so it may contact the driver.
type Factory func(ctx context.Context, req SearchRequest) (Session, error)

// SearchRequest is the body of POST /api/v1/search. Zero fields keep the
// server's defaults.
type SearchRequest struct {
	ID             string   `json:"id,omitempty"`
	Controller     string   `json:"controller,omitempty"` // host:port
	Instances      []string `json:"instances,omitempty"`
	MaxEvaluations int      `json:"max_evaluations,omitempty"`
	MaxTime        string   `json:"max_time,omitempty"`
	Seed           int64    `json:"seed,omitempty"`
}

// Validate checks the request fields that do not need the driver
func (r SearchRequest) Validate() error {
	if r.MaxEvaluations < 0 {
		return errors.New("max_evaluations must not be negative")
	}
	if r.MaxTime != "" {
		if _, err := time.ParseDuration(r.MaxTime); err != nil {
			return fmt.Errorf("invalid max_time: %w", err)
		}
	}
	return nil
}

// JobStatus tracks a search job
type JobStatus struct {
	ID          string              `json:"id"`
	Status      types.SearchStatus  `json:"status"`
	Request     SearchRequest       `json:"request"`
	Result      *types.SearchResult `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
	Progress    int                 `json:"progress"` // evaluations so far
	Covered     int                 `json:"covered"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`

	cancel context.CancelFunc
}

func (j *JobStatus) finished() bool {
	switch j.Status {
	case types.StatusCompleted, types.StatusFailed, types.StatusCancelled:
		return true
	}
	return false
}

// Job represents a queued search
type Job struct {
	ID      string
	Request SearchRequest
}

// Server handles HTTP requests for search jobs
type Server struct {
	config     types.ServerConfig
	factory    Factory
	store      storage.Store
	metrics    http.Handler
	logger     *slog.Logger
	router     *gin.Engine
	httpServer *http.Server
	wsUpgrader websocket.Upgrader

	// Job management
	mu       sync.RWMutex
	jobs     map[string]*JobStatus
	watchers map[string][]chan *search.Event
	jobQueue chan *Job
	workers  sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// Option configures a Server
type Option func(*Server)

// WithStore persists finished runs and serves /runs from it
func WithStore(st storage.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics serves h on /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a new server instance
func New(config types.ServerConfig, factory Factory, opts ...Option) (*Server, error) {
	if factory == nil {
		return nil, errors.New("server needs a search factory")
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	gin.SetMode(gin.ReleaseMode)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:  config,
		factory: factory,
		logger:  slog.Default(),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		jobs:     make(map[string]*JobStatus),
		watchers: make(map[string][]chan *search.Event),
		jobQueue: make(chan *Job, config.MaxConcurrent*2),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	s.setupRouter()
	return s, nil
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())

	if s.config.EnableCORS {
		s.router.Use(corsMiddleware())
	}
	if s.config.AuthToken != "" {
		s.router.Use(authMiddleware(s.config.AuthToken))
	}

	api := s.router.Group("/api/v1")
	{
		api.POST("/search", s.handleSubmitSearch)
		api.GET("/search", s.handleListJobs)
		api.GET("/search/:id", s.handleGetSearch)
		api.DELETE("/search/:id", s.handleCancelSearch)
		if s.config.EnableWebSocket {
			api.GET("/search/:id/ws", s.handleSearchWebSocket)
		}

		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)

		api.GET("/health", s.handleHealth)
	}

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// Start runs the job workers and serves the API until Shutdown
func (s *Server) Start() error {
	s.startWorkers()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.logger.Info("server listening", "addr", addr, "workers", s.config.MaxConcurrent)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) startWorkers() {
	for i := 0; i < s.config.MaxConcurrent; i++ {
		s.workers.Add(1)
		go s.jobWorker()
	}
}

// Shutdown cancels running searches, waits for their partial results to be
// stored and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out waiting for running searches")
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) jobWorker() {
	defer s.workers.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.jobQueue:
			s.processJob(job)
		}
	}
}

func (s *Server) processJob(job *Job) {
	s.mu.Lock()
	status := s.jobs[job.ID]
	if status == nil || status.Status != StatusQueued {
		s.mu.Unlock()
		s.closeWatchers(job.ID)
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	now := time.Now()
	status.Status = types.StatusRunning
	status.StartedAt = &now
	status.cancel = cancel
	s.mu.Unlock()

	logger := s.logger.With("job", job.ID)
	logger.Info("search job started")

	session, err := s.factory(ctx, job.Request)
	if err != nil {
		s.finish(job.ID, nil, err)
		return
	}

	events := session.Subscribe(job.ID)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for event := range events {
			s.observe(job.ID, event)
			s.publish(job.ID, event)
		}
	}()

	result, err := session.Run(ctx, job.ID)
	session.Unsubscribe(job.ID, events)
	<-forwarded

	s.finish(job.ID, result, err)
}

// finish records the outcome of a job, persists its result and ends every
// WebSocket stream of it
func (s *Server) finish(id string, result *types.SearchResult, err error) {
	s.mu.Lock()
	status := s.jobs[id]
	completed := time.Now()
	status.CompletedAt = &completed
	status.cancel = nil
	status.Result = result
	switch {
	case err != nil:
		status.Status = types.StatusFailed
		status.Error = err.Error()
	case result != nil:
		status.Status = result.Status
	default:
		status.Status = types.StatusCompleted
	}
	if result != nil {
		status.Progress = result.Statistics.Evaluations
		status.Covered = result.Statistics.CoveredTargets
	}
	final := *status
	s.mu.Unlock()

	logger := s.logger.With("job", id)
	if err != nil {
		logger.Error("search job failed", "error", err)
	} else {
		logger.Info("search job finished", "status", final.Status, "evaluations", final.Progress, "covered", final.Covered)
	}

	if result != nil && s.store != nil {
		// the server context is already cancelled on shutdown
		if err := s.store.Save(context.WithoutCancel(s.ctx), result); err != nil {
			logger.Error("failed to store run", "error", err)
		}
	}

	s.publish(id, &search.Event{Type: EventJobFinished, Timestamp: completed, Data: final})
	s.closeWatchers(id)
}

// observe keeps the job progress current
func (s *Server) observe(id string, event *search.Event) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.jobs[id]
	if status == nil {
		return
	}
	switch event.Type {
	case search.EventEvaluation:
		if n, ok := data["evaluation"].(int); ok && n > status.Progress {
			status.Progress = n
		}
	case search.EventTargetCovered:
		status.Covered++
	}
}

func (s *Server) unwatch(id string, ch <-chan *search.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.watchers[id]
	for i, sub := range subs {
		if sub == ch {
			s.watchers[id] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.watchers[id]) == 0 {
		delete(s.watchers, id)
	}
}

func (s *Server) publish(id string, event *search.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.watchers[id] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *Server) closeWatchers(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.watchers[id] {
		close(ch)
	}
	delete(s.watchers, id)
}

// API Handlers

func (s *Server) handleSubmitSearch(c *gin.Context) {
	var req SearchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.ID == "" {
		req.ID = search.GenerateID()
	}

	s.mu.Lock()
	if _, exists := s.jobs[req.ID]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "job already exists"})
		return
	}
	s.jobs[req.ID] = &JobStatus{
		ID:      req.ID,
		Status:  StatusQueued,
		Request: req,
	}
	s.mu.Unlock()

	select {
	case s.jobQueue <- &Job{ID: req.ID, Request: req}:
		c.JSON(http.StatusAccepted, gin.H{
			"id":     req.ID,
			"status": StatusQueued,
		})
	default:
		s.mu.Lock()
		delete(s.jobs, req.ID)
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue full"})
	}
}

func (s *Server) handleGetSearch(c *gin.Context) {
	s.mu.RLock()
	status, ok := s.jobs[c.Param("id")]
	var snapshot JobStatus
	if ok {
		snapshot = *status
	}
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleListJobs(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]JobStatus, 0, len(s.jobs))
	for _, status := range s.jobs {
		snapshot := *status
		snapshot.Result = nil
		items = append(items, snapshot)
	}

	c.JSON(http.StatusOK, gin.H{
		"total": len(items),
		"jobs":  items,
	})
}

func (s *Server) handleCancelSearch(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	status, ok := s.jobs[id]
	var current types.SearchStatus
	if ok {
		switch {
		case status.Status == StatusQueued:
			now := time.Now()
			status.Status = types.StatusCancelled
			status.CompletedAt = &now
		case status.cancel != nil:
			// the worker records the cancelled result
			status.cancel()
		}
		current = status.Status
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if current == types.StatusCancelled {
		s.closeWatchers(id)
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": current, "cancel_requested": true})
}

func (s *Server) handleSearchWebSocket(c *gin.Context) {
	id := c.Param("id")

	// register before upgrading so no event between the two is lost
	s.mu.Lock()
	status, ok := s.jobs[id]
	var (
		snapshot JobStatus
		events   chan *search.Event
	)
	if ok {
		snapshot = *status
		if !snapshot.finished() {
			events = make(chan *search.Event, 100)
			s.watchers[id] = append(s.watchers[id], events)
		}
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if events != nil {
		defer s.unwatch(id, events)
	}

	conn, err := s.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if events == nil {
		data, _ := json.Marshal(&search.Event{Type: EventJobFinished, Timestamp: time.Now(), Data: snapshot})
		_ = conn.WriteMessage(websocket.TextMessage, data)
		return
	}

	for event := range events {
		data, _ := json.Marshal(event)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no run storage configured"})
		return
	}
	runs, err := s.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total": len(runs),
		"runs":  runs,
	})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no run storage configured"})
		return
	}
	run, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.RLock()
	running := 0
	for _, j := range s.jobs {
		if j.Status == types.StatusRunning {
			running++
		}
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"time":    time.Now().Format(time.RFC3339),
		"running": running,
		"queued":  len(s.jobQueue),
	})
}

// Middleware

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func authMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if auth != "Bearer "+token && auth != token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
