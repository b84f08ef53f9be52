package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"lunar-bazi/backend/internal/bazi"
	"lunar-bazi/backend/internal/convert"
	"lunar-bazi/backend/internal/store"
	"lunar-bazi/backend/internal/web"
)

const (
	maxPageSize = 200
	maxPage     = 1_000_000
)

// Config defines server dependencies.
type Config struct {
	Service        *convert.Service
	DB             *store.Database
	Notifier       *ConversionNotifier
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Timezone       *time.Location
	RateLimitRPS   float64
	RateLimitBurst int
	Now            func() time.Time
}

// Server wires HTTP handlers with the conversion service and history store.
type Server struct {
	service        *convert.Service
	db             *store.Database
	notifier       *ConversionNotifier
	gatherer       prometheus.Gatherer
	allowedOrigins []string
	timezone       *time.Location
	rateLimitRPS   float64
	rateLimitBurst int
	now            func() time.Time
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("conversion service required")
	}
	if cfg.DB == nil {
		return nil, errors.New("database required")
	}
	server := &Server{
		service:        cfg.Service,
		db:             cfg.DB,
		notifier:       cfg.Notifier,
		gatherer:       cfg.Gatherer,
		allowedOrigins: cfg.AllowedOrigins,
		timezone:       cfg.Timezone,
		rateLimitRPS:   cfg.RateLimitRPS,
		rateLimitBurst: cfg.RateLimitBurst,
		now:            cfg.Now,
	}
	if server.notifier == nil {
		server.notifier = NewConversionNotifier()
	}
	if server.gatherer == nil {
		server.gatherer = prometheus.DefaultGatherer
	}
	if server.timezone == nil {
		server.timezone = time.Local
	}
	if server.now == nil {
		server.now = time.Now
	}
	return server, nil
}

// Notifier exposes the websocket broadcaster so the service can publish to it.
func (s *Server) Notifier() *ConversionNotifier {
	return s.notifier
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), loggingMiddleware())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", headerRequestID}
	corsCfg.ExposeHeaders = []string{headerRequestID}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	r.SetHTMLTemplate(tmpl)

	r.GET("/", s.handleIndex)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.GET("/defaults", s.handleDefaults)
		api.POST("/convert", rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst), s.handleConvert)
		api.GET("/history", s.handleListHistory)
		api.DELETE("/history", s.handleClearHistory)
		api.GET("/history/:id", s.handleGetHistory)
		api.DELETE("/history/:id", s.handleDeleteHistory)
		api.GET("/stream", s.handleStream)
	}

	return r, nil
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Input":          s.defaults(),
		"FailureMessage": convert.FailureMessage,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	conversions, err := s.db.CountConversions()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":        s.service.ProviderName(),
		"cache":           s.service.CacheKind(),
		"timezone":        s.timezone.String(),
		"conversions":     conversions,
		"stream_watchers": s.notifier.Clients(),
		"last_event":      s.notifier.LastEvent(),
	})
}

func (s *Server) handleDefaults(c *gin.Context) {
	c.JSON(http.StatusOK, s.defaults())
}

func (s *Server) defaults() bazi.DateTimeInput {
	return bazi.DefaultInput(s.now().In(s.timezone))
}

func (s *Server) handleConvert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("%w: year, month, day, hour and minute are required numbers", bazi.ErrInvalidInput))
		return
	}
	input, err := req.Input()
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	requestID := c.GetString(ctxRequestID)
	outcome, err := s.service.Convert(c.Request.Context(), input, requestID)
	if err != nil {
		s.renderConvertError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConvertResponse(input, outcome, requestID))
}

func (s *Server) renderConvertError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bazi.ErrInvalidInput):
		s.renderError(c, http.StatusBadRequest, err)
	default:
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: convert.FailureMessage, RequestID: c.GetString(ctxRequestID)})
	}
}

func (s *Server) handleListHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 25
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page > maxPage {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("page must be at most %d", maxPage))
		return
	}

	rows, total, err := s.db.ListConversions(page*pageSize, pageSize)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	items := make([]ConversionDTO, 0, len(rows))
	for _, row := range rows {
		dto, err := FromModel(row)
		if err != nil {
			logrus.WithError(err).WithField("conversion_id", row.ID).Warn("skip unreadable conversion")
			continue
		}
		items = append(items, dto)
	}
	c.JSON(http.StatusOK, HistoryResponse{Items: items, Total: total})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	removed, err := s.db.ClearConversions()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	logrus.WithField("removed", removed).Info("conversion history cleared")
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleGetHistory(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	row, err := s.db.GetConversion(id)
	if err != nil {
		s.renderStoreError(c, id, err)
		return
	}
	dto, err := FromModel(*row)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleDeleteHistory(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.db.DeleteConversion(id); err != nil {
		s.renderStoreError(c, id, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) renderStoreError(c *gin.Context, id uint, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.renderError(c, http.StatusNotFound, fmt.Errorf("conversion %d not found", id))
		return
	}
	s.renderError(c, http.StatusInternalServerError, err)
}

func (s *Server) handleStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("conversion websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Warn("conversion websocket read")
			} else {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("conversion websocket closed")
			}
			return
		}
	}
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, ErrorResponse{Error: err.Error(), RequestID: c.GetString(ctxRequestID)})
}

func parseUintParam(raw string) (uint, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(value), nil
}
