package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/guard"
	"github.com/kathan-shah07/fundrag/ingestion"
	"github.com/kathan-shah07/fundrag/retrieval"
	"github.com/kathan-shah07/fundrag/scheduler"
)

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Question      string `json:"question" binding:"required"`
	K             int    `json:"k"`
	ReturnSources *bool  `json:"return_sources"`
	ReturnScores  bool   `json:"return_scores"`
}

// ScrapeRequest is the optional body of POST /api/v1/scrape.
type ScrapeRequest struct {
	Force        bool `json:"force"`
	CheckNewURLs bool `json:"check_new_urls"`
	ScrapeOnly   bool `json:"scrape_only"`
	IngestOnly   bool `json:"ingest_only"`
}

// CollectionResponse describes the chunk collection.
type CollectionResponse struct {
	Name                     string     `json:"name"`
	Count                    int        `json:"count"`
	Path                     string     `json:"path,omitempty"`
	LatestIngestionTimestamp *time.Time `json:"latest_ingestion_timestamp,omitempty"`
}

func collectionResponse(info core.CollectionInfo) CollectionResponse {
	return CollectionResponse{
		Name:                     info.Name,
		Count:                    info.Count,
		Path:                     info.Path,
		LatestIngestionTimestamp: info.LatestIngestionTimestamp,
	}
}

func (s *Server) health(c *gin.Context) {
	info, err := s.collection.CollectionInfo(c.Request.Context())
	if err != nil {
		s.logger.Error("health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "collection_info": collectionResponse(info)})
}

func (s *Server) query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	if req.K < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "k must not be negative"})
		return
	}

	if err := guard.Check(req.Question); err != nil {
		var rejection *guard.Rejection
		if errors.As(err, &rejection) {
			s.logger.Warn("question rejected", "kind", rejection.Kind)
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	answer, err := s.answerer.Answer(c.Request.Context(), req.Question, retrieval.AnswerOptions{
		K:            req.K,
		ReturnScores: req.ReturnScores,
	})
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuestion):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	case errors.Is(err, core.ErrGenerationFailure):
		s.logger.Error("answer generation failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"detail": "failed to generate an answer"})
		return
	case err != nil:
		s.logger.Error("query failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to answer question"})
		return
	}

	if req.ReturnSources != nil && !*req.ReturnSources {
		answer.Sources = []retrieval.Source{}
	}
	c.JSON(http.StatusOK, answer)
}

func (s *Server) scraperStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.operator.Status())
}

func (s *Server) trigger(c *gin.Context) {
	var req ScrapeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
			return
		}
	}
	if req.ScrapeOnly && req.IngestOnly {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "scrape_only and ingest_only are mutually exclusive"})
		return
	}

	err := s.operator.Trigger(scheduler.TriggerOptions{
		ScrapeOnly: req.ScrapeOnly,
		IngestOnly: req.IngestOnly,
		Run:        ingestion.RunOptions{Force: req.Force, CheckNewURLs: req.CheckNewURLs},
	})
	switch {
	case errors.Is(err, scheduler.ErrTriggerBusy):
		c.JSON(http.StatusConflict, gin.H{"detail": "a run is already in progress"})
		return
	case err != nil:
		s.logger.Error("trigger failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "run started", "status_url": "/api/v1/scraper-status"})
}

func (s *Server) collectionInfo(c *gin.Context) {
	info, err := s.collection.CollectionInfo(c.Request.Context())
	if err != nil {
		s.logger.Error("collection info failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, collectionResponse(info))
}

func (s *Server) deleteCollection(c *gin.Context) {
	if err := s.collection.DeleteCollection(c.Request.Context()); err != nil {
		s.logger.Error("delete collection failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	s.logger.Info("collection deleted")
	c.JSON(http.StatusOK, gin.H{"message": "collection deleted"})
}
