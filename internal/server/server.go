package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"douban_recommend/internal/logger"
	"douban_recommend/internal/pipeline"
	"douban_recommend/internal/session"
	"douban_recommend/internal/source"
	"douban_recommend/internal/store"
)

// 默认参数
const (
	defaultSource = "douban"
	defaultTopK   = 20
	maxTopK       = 100
)

// Server 代表 HTTP API 服务器
type Server struct {
	router *gin.Engine
	engine *pipeline.Engine
	store  *store.Store
}

// NewServer 创建新的 HTTP 服务器
func NewServer(engine *pipeline.Engine, st *store.Store) *Server {
	s := &Server{
		router: gin.Default(),
		engine: engine,
		store:  st,
	}
	s.router.Use(s.corsMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Run 启动服务器
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")

	v1.POST("/recommend", s.handleRecommend)
	v1.POST("/recommend/followup", s.handleFollowup)
	v1.GET("/library", s.handleLibrary)
}

type RecommendRequest struct {
	Source          string             `json:"source"`
	Username        string             `json:"username" binding:"required"`
	Query           string             `json:"query" binding:"required"`
	TopK            int                `json:"top_k"`
	AllowFollowup   *bool              `json:"allow_followup"`
	FriendUsernames []string           `json:"friend_usernames"`
	FriendWeights   map[string]float64 `json:"friend_weights"`
}

type FollowupRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Answer    string `json:"answer" binding:"required"`
}

// handleRecommend 处理推荐请求
// POST /api/v1/recommend
func (s *Server) handleRecommend(c *gin.Context) {
	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	username := resolveUsername(req.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	sourceName := strings.TrimSpace(req.Source)
	if sourceName == "" {
		sourceName = defaultSource
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}
	allowFollowup := true
	if req.AllowFollowup != nil {
		allowFollowup = *req.AllowFollowup
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 120*time.Second)
	defer cancel()

	resp, err := s.engine.Recommend(ctx, &pipeline.Request{
		Source:          sourceName,
		Username:        username,
		Query:           req.Query,
		TopK:            topK,
		AllowFollowup:   allowFollowup,
		FriendUsernames: req.FriendUsernames,
		FriendWeights:   req.FriendWeights,
	})
	if err != nil {
		s.writeRecommendError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleFollowup 处理追问回答
// POST /api/v1/recommend/followup
func (s *Server) handleFollowup(c *gin.Context) {
	var req FollowupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	answer := strings.TrimSpace(req.Answer)
	if answer == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "answer is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 120*time.Second)
	defer cancel()

	resp, err := s.engine.AnswerFollowup(ctx, req.SessionID, answer)
	if err != nil {
		s.writeRecommendError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleLibrary 列出某用户已同步的书影音条目
// GET /api/v1/library?username=xxx&source=douban
func (s *Server) handleLibrary(c *gin.Context) {
	username := resolveUsername(c.Query("username"))
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username parameter is required"})
		return
	}
	sourceName := strings.TrimSpace(c.Query("source"))
	if sourceName == "" {
		sourceName = defaultSource
	}

	user, err := s.store.FindUser(sourceName, username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": pipeline.ErrUserNotSynced.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to load user: %v", err)})
		return
	}

	entries, err := s.store.Library(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to load library: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"source":   sourceName,
		"username": username,
		"total":    len(entries),
		"items":    entries,
	})
}

// writeRecommendError 错误分类映射到 HTTP 状态码
func (s *Server) writeRecommendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrUserNotSynced):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, pipeline.ErrSessionInactive):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrNoCandidates):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Error("recommend request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("recommendation failed: %v", err)})
	}
}

// resolveUsername 支持直接传用户名或豆瓣主页链接
func resolveUsername(raw string) string {
	compact := strings.TrimSpace(raw)
	if compact == "" {
		return ""
	}
	if parsed := source.NormalizeUsername(compact); parsed != "" && parsed != source.MineMarker {
		return parsed
	}
	return compact
}
