package main

import (
	"flag"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig 对应 configs/server.yaml
type ServerConfig struct {
	Server struct {
		Port  string `yaml:"port"`
		Debug bool   `yaml:"debug"`
	} `yaml:"server"`
	Storage struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`
	Source struct {
		Name string `yaml:"name"`
	} `yaml:"source"`
	Reranker struct {
		ChatEndpoint string `yaml:"chat_endpoint"` // 完整的 API 地址
		APIKey       string `yaml:"api_key"`
		Model        string `yaml:"model"`
	} `yaml:"reranker"`
}

func loadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// InitServerConfig 初始化服务器配置，优先级：命令行参数 > 配置文件 > 默认值
func InitServerConfig() *ServerConfig {
	// 命令行参数默认为空字符串，以便优先使用配置文件中的值
	configPath := flag.String("config", "configs/server.yaml", "Path to server config file")
	portFlag := flag.String("port", "", "Server port")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	dbFlag := flag.String("db", "", "Path to sqlite database")
	flag.Parse()

	// 1. 初始化默认值
	serverCfg := &ServerConfig{}
	serverCfg.Server.Port = "8080"
	serverCfg.Server.Debug = false
	serverCfg.Storage.SQLitePath = "data/douban.db"
	serverCfg.Source.Name = "douban"

	// 2. 尝试加载配置文件
	if loadedCfg, err := loadServerConfig(*configPath); err == nil {
		if loadedCfg.Server.Port != "" {
			serverCfg.Server.Port = loadedCfg.Server.Port
		}
		// Debug 默认为 false，配置文件里显式设置了 true 则覆盖
		if loadedCfg.Server.Debug {
			serverCfg.Server.Debug = true
		}
		if loadedCfg.Storage.SQLitePath != "" {
			serverCfg.Storage.SQLitePath = loadedCfg.Storage.SQLitePath
		}
		if loadedCfg.Source.Name != "" {
			serverCfg.Source.Name = loadedCfg.Source.Name
		}
		serverCfg.Reranker = loadedCfg.Reranker
	} else {
		// 配置文件缺失不算错误，继续用默认值和命令行参数
		log.Printf("Info: Could not load config file '%s': %v. Using defaults or flags.", *configPath, err)
	}

	// 3. 应用命令行参数 (优先级最高)
	if *portFlag != "" {
		serverCfg.Server.Port = *portFlag
	}
	if *debugFlag {
		serverCfg.Server.Debug = true
	}
	if *dbFlag != "" {
		serverCfg.Storage.SQLitePath = *dbFlag
	}

	return serverCfg
}
