package main

import (
	"douban_recommend/internal/logger"
	"douban_recommend/internal/pipeline"
	"douban_recommend/internal/server"
	"douban_recommend/internal/store"
	"douban_recommend/pkg/llm"
)

func main() {
	cfg := InitServerConfig()
	logger.SetDebug(cfg.Server.Debug)
	defer logger.Sync()

	// 1. 初始化存储（同步数据 + 会话 + 结果）
	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		logger.Fatal("Failed to open store: %v", err)
	}

	// 2. 初始化重排器，未配置时走本地启发式排序
	var reranker *llm.Reranker
	if cfg.Reranker.ChatEndpoint != "" && cfg.Reranker.Model != "" {
		client := llm.NewOpenAIClient(cfg.Reranker.ChatEndpoint, cfg.Reranker.APIKey, cfg.Reranker.Model)
		reranker = llm.NewReranker(client)
		logger.Info("reranker enabled: model=%s", cfg.Reranker.Model)
	} else {
		logger.Info("reranker not configured, using local heuristic ranking")
	}

	// 3. 候选池适配器：同库的社区候选池
	adapter := st.Pool(cfg.Source.Name)

	// 4. 组装推荐引擎
	engine := pipeline.NewEngine(st, st, adapter, reranker)

	// 5. 启动 HTTP Server
	srv := server.NewServer(engine, st)
	logger.Info("Starting HTTP server on port %s...", cfg.Server.Port)
	if err := srv.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Server failed: %v", err)
	}
}
