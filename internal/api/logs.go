package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/scrapecore/internal/logger"
)

// LogsHandlers handles log-related HTTP endpoints.
type LogsHandlers struct {
	recent  *logger.RecentLogs
	logFile string
}

// NewLogsHandlers creates a new logs handlers instance. logFile may be empty.
func NewLogsHandlers(recent *logger.RecentLogs, logFile string) *LogsHandlers {
	return &LogsHandlers{recent: recent, logFile: logFile}
}

// RegisterRoutes registers log routes on the given group.
func (h *LogsHandlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetRecentLogs)
	g.GET("/download", h.DownloadLogFile)
}

// GetRecentLogs returns buffered log entries.
// GET /api/v1/logs?level=&provider=&limit=
func (h *LogsHandlers) GetRecentLogs(c echo.Context) error {
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	level := logger.ParseLevel(c.QueryParam("level"))
	if c.QueryParam("level") == "" {
		level = logger.ParseLevel("trace")
	}
	return c.JSON(http.StatusOK, h.recent.Entries(level, c.QueryParam("provider"), limit))
}

// DownloadLogFile serves the current log file for download.
// GET /api/v1/logs/download
func (h *LogsHandlers) DownloadLogFile(c echo.Context) error {
	if h.logFile == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no log file configured")
	}
	if _, err := os.Stat(h.logFile); os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "log file not found")
	}
	return c.Attachment(h.logFile, filepath.Base(h.logFile))
}
