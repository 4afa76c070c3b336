package webserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/autossl"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
)

type handler struct {
	opts   Options
	logger *slog.Logger
}

func (h *handler) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Store.Snapshot())
}

func (h *handler) getCSR(c *gin.Context) {
	if h.opts.Certificates == nil {
		c.JSON(http.StatusOK, gin.H{"csr": "disabled"})
		return
	}
	csr, err := h.opts.Certificates.CSR()
	if errors.Is(err, autossl.ErrLocked) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("csr unavailable", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create certificate signing request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"csr": string(csr)})
}

type certificatePayload struct {
	Signed string `json:"signed" binding:"required"`
	CA     string `json:"ca" binding:"required"`
}

func (h *handler) updateCrt(c *gin.Context) {
	if h.opts.Certificates == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "autossl is disabled"})
		return
	}
	var p certificatePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.opts.Certificates.InstallCertificate([]byte(p.Signed), []byte(p.CA)); err != nil {
		if errors.Is(err, autossl.ErrLocked) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("certificate install failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handler) getConfig(c *gin.Context) {
	docs, err := h.opts.ConfigFiles.Read()
	if err != nil {
		h.logger.Error("read config failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read configuration"})
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *handler) postConfig(c *gin.Context) {
	var docs config.Documents
	if err := c.ShouldBindJSON(&docs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.opts.ConfigFiles.Write(&docs); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalid) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	h.opts.Reload()
	c.JSON(http.StatusOK, gin.H{"success": true})
}
