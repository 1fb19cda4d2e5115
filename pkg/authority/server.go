// ABOUTME: Authority responder serving its wall clock to estimators
// ABOUTME: HTTP /time for pollers and a push channel that streams timestamps
package authority

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/timesync-go/timesync/internal/discovery"
	"github.com/timesync-go/timesync/internal/logging"
	"github.com/timesync-go/timesync/internal/metrics"
	"github.com/timesync-go/timesync/internal/ntpcheck"
	"github.com/timesync-go/timesync/internal/protocol"
	"github.com/timesync-go/timesync/internal/version"
)

const (
	DefaultPushInterval = time.Second
	DefaultPingInterval = 30 * time.Second

	writeTimeout    = 10 * time.Second
	drainTimeout    = time.Second
	shutdownTimeout = 5 * time.Second
)

// Config holds authority configuration
type Config struct {
	Host string
	Port int // 0 derives 443 with TLS, 80 without
	Name string

	CertFile string
	KeyFile  string

	PushInterval time.Duration
	PingInterval time.Duration

	EnableMDNS  bool
	NTPHost     string // empty disables the reference check
	NTPInterval time.Duration

	Clock   clock.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Authority
}

// Secure reports whether the authority serves TLS
func (c Config) Secure() bool {
	return c.CertFile != ""
}

// Server is the time authority
type Server struct {
	config   Config
	serverID string
	clock    clock.Clock
	log      *zap.SugaredLogger
	metrics  *metrics.Authority

	upgrader websocket.Upgrader
	router   *gin.Engine

	mu         sync.Mutex
	httpServer *http.Server

	mdnsManager *discovery.Manager
	ntpChecker  *ntpcheck.Checker

	conns   map[string]*pushConn
	connsMu sync.RWMutex

	stopChan     chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
	shutdownMu   sync.RWMutex
	isShutdown   bool
	wg           sync.WaitGroup
}

// NewServer creates an authority; Handler serves it, Start also listens
func NewServer(config Config) (*Server, error) {
	if (config.CertFile == "") != (config.KeyFile == "") {
		return nil, errors.New("TLS needs both a certificate and a key file")
	}

	if config.Port == 0 {
		config.Port = 80
		if config.Secure() {
			config.Port = 443
		}
	}
	if config.Name == "" {
		config.Name = version.Product
	}
	if config.PushInterval <= 0 {
		config.PushInterval = DefaultPushInterval
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewAuthority()
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		clock:    config.Clock,
		log:      logging.OrNop(config.Logger),
		metrics:  config.Metrics,
		upgrader: websocket.Upgrader{
			// estimators run in browsers on other origins as well
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:    make(map[string]*pushConn),
		stopChan: make(chan struct{}),
	}
	s.router = s.newRouter()
	return s, nil
}

func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(cors.Default())

	router.GET(protocol.TimePath, s.handleTime)
	router.GET(protocol.PushPath, s.handlePush)
	router.GET("/", s.handlePush)
	router.GET("/metrics", gin.WrapH(metrics.Handler(s.metrics.Registry)))
	return router
}

// Handler returns the HTTP handler serving every authority route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Stop or a listener error
func (s *Server) Start() error {
	secure := s.config.Secure()
	s.log.Infof("Authority starting: %s (ID: %s, version %s)", s.config.Name, s.serverID, version.Version)

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Secure:      secure,
			Logger:      s.log,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.log.Warnf("Failed to start mDNS advertisement: %v", err)
		}
	}

	if s.config.NTPHost != "" {
		checker, err := ntpcheck.New(ntpcheck.Config{
			Host:     s.config.NTPHost,
			Interval: s.config.NTPInterval,
			Logger:   s.log,
			Metrics:  s.metrics,
		})
		if err != nil {
			return err
		}
		s.ntpChecker = checker
		s.ntpChecker.Start()
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.log.Infof("Listening on %s (TLS: %v). Try:", srv.Addr, secure)
	for _, u := range discovery.DiagnosticURLs(s.config.Port, secure) {
		s.log.Infof("  %s", u)
	}

	errChan := make(chan error, 1)
	go func() {
		var err error
		if secure {
			err = srv.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		s.log.Infof("Authority shutting down...")
	case err := <-errChan:
		s.log.Errorf("HTTP server error: %v", err)
		serverErr = err
	}

	s.shutdown()

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop notifies every push channel, closes them and stops listening
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.shutdown()
}

// Connections returns the number of open push channels
func (s *Server) Connections() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) shutdown() {
	s.shutdownOnce.Do(func() {
		s.shutdownMu.Lock()
		s.isShutdown = true
		s.shutdownMu.Unlock()

		if s.mdnsManager != nil {
			s.mdnsManager.Stop()
		}
		if s.ntpChecker != nil {
			s.ntpChecker.Stop()
		}

		for _, pc := range s.snapshot() {
			pc.notify(protocol.Notice{Type: protocol.TypeShutdown})
		}

		drained := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(drained)
		}()

		timer := time.NewTimer(drainTimeout)
		select {
		case <-drained:
			timer.Stop()
		case <-timer.C:
			s.log.Warnf("Closing %d push channels that did not drain", s.Connections())
			for _, pc := range s.snapshot() {
				pc.close()
			}
			<-drained
		}

		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()

		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				s.log.Warnf("HTTP server shutdown error: %v", err)
			}
		}

		s.log.Infof("Authority stopped cleanly")
	})
}

func (s *Server) now() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Server) handleTime(c *gin.Context) {
	s.metrics.TimeRequests.WithLabelValues("http").Inc()
	c.JSON(http.StatusOK, protocol.TimeMessage{ServerTime: s.now()})
}

func (s *Server) handlePush(c *gin.Context) {
	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.shutdownMu.RUnlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	pc := newPushConn(s, ws, c.Request)
	s.register(pc)
	defer s.unregister(pc)

	pc.serve()
}

func (s *Server) register(pc *pushConn) {
	s.connsMu.Lock()
	s.conns[pc.id] = pc
	s.connsMu.Unlock()

	s.metrics.ActiveConnections.Inc()
	s.metrics.TotalConnections.Inc()
	s.log.Infof("Push channel opened: %s from %s", pc.id, pc.remote)
}

func (s *Server) unregister(pc *pushConn) {
	s.connsMu.Lock()
	delete(s.conns, pc.id)
	s.connsMu.Unlock()

	s.metrics.ActiveConnections.Dec()
	s.log.Infof("Push channel closed: %s", pc.id)
}

func (s *Server) snapshot() []*pushConn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()

	conns := make([]*pushConn, 0, len(s.conns))
	for _, pc := range s.conns {
		conns = append(conns, pc)
	}
	return conns
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
