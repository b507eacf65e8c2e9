package apiserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wiretamper/wiretamper/protocol"
	"github.com/wiretamper/wiretamper/report"
	"github.com/wiretamper/wiretamper/testlib"
)

const defaultListLimit = 100

func (srv *APIServer) handleReports(c *gin.Context) {
	limit := defaultListLimit
	if raw, ok := c.GetQuery("limit"); ok {
		l, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = l
	}
	reports, err := srv.ctx.Store.List(c.Request.Context(), limit)
	if err != nil {
		srv.Logger.WithError(err).Error("Failed to list reports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"summary": report.Summary(reports),
	})
}

// getReport writes the error response itself when the report is missing
func (srv *APIServer) getReport(c *gin.Context) (*report.Report, bool) {
	id, ok := c.Params.Get("id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id param"})
		return nil, false
	}
	r, err := srv.ctx.Store.Get(c.Request.Context(), id)
	if errors.Is(err, report.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report id does not exist"})
		return nil, false
	}
	if err != nil {
		srv.Logger.WithError(err).Error("Failed to read report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read report"})
		return nil, false
	}
	return r, true
}

func (srv *APIServer) handleReportGet(c *gin.Context) {
	r, ok := srv.getReport(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r)
}

func (srv *APIServer) handleReportTrace(c *gin.Context) {
	r, ok := srv.getReport(c)
	if !ok {
		return
	}
	if r.Trace == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "report has no trace"})
		return
	}
	c.Data(http.StatusOK, "application/yaml", []byte(r.Trace))
}

// handleRun executes the YAML trace of the body against the configured
// target. The query parameter name labels the run.
func (srv *APIServer) handleRun(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing trace"})
		return
	}
	resolved, err := protocol.Resolve(srv.ctx.Config, body, "")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runName := c.Query("name")
	if runName == "" {
		runName = fmt.Sprintf("api-%d", srv.ctx.Counter.Next())
	}
	tc := testlib.NewTestCase(runName, 0, resolved.Trace, nil)
	r := srv.ctx.Runner.Run(c.Request.Context(), tc)
	if err := srv.ctx.Record(c.Request.Context(), r); err != nil {
		srv.Logger.WithError(err).Error("Failed to store report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store report"})
		return
	}
	c.JSON(http.StatusCreated, r)
}

type protocolInfo struct {
	Name    string   `json:"name"`
	Network string   `json:"network"`
	Traces  []string `json:"traces"`
}

func (srv *APIServer) handleProtocols(c *gin.Context) {
	out := make([]protocolInfo, 0)
	for _, name := range protocol.Names() {
		f, _ := protocol.Get(name)
		out = append(out, protocolInfo{
			Name:    name,
			Network: protocol.Network(f, srv.ctx.Config),
			Traces:  f.Traces(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"protocols": out})
}
