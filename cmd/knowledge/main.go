package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aihub/multimodal-rag/app/bootstrap"
	"github.com/aihub/multimodal-rag/app/controllers"
	"github.com/aihub/multimodal-rag/app/router"
	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init(bootstrap.Options{StartConsumer: true})
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	if err := router.Init(controllers.NewControllerFactory(app.Container), app.Config); err != nil {
		logger.Fatal("failed to register routes", zap.Error(err))
	}

	port, err := strconv.Atoi(app.Config.Server.Port)
	if err != nil {
		logger.Warn("invalid server port, falling back to 8080", zap.String("port", app.Config.Server.Port))
		port = 8080
	}
	web.BConfig.AppName = "Multimodal RAG"
	web.BConfig.CopyRequestBody = true
	web.BConfig.MaxMemory = app.Config.FileUpload.MaxSize
	web.BConfig.MaxUploadSize = app.Config.FileUpload.MaxSize
	web.BConfig.Listen.HTTPPort = port
	if app.Config.Server.Env == "production" {
		web.BConfig.RunMode = web.PROD
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down")
		app.Shutdown()
		os.Exit(0)
	}()

	logger.Info("🚀 Starting Multimodal RAG service", zap.Int("port", port))
	web.Run()
}
