package controllers

import (
	"go.uber.org/dig"

	"github.com/aihub/multimodal-rag/internal/database"
	"github.com/aihub/multimodal-rag/internal/services"
)

// ControllerFactory 控制器工厂
type ControllerFactory struct {
	container *dig.Container
}

// NewControllerFactory 创建控制器工厂
func NewControllerFactory(container *dig.Container) *ControllerFactory {
	return &ControllerFactory{
		container: container,
	}
}

// CreateKnowledgeController 创建知识库控制器
func (f *ControllerFactory) CreateKnowledgeController() (*KnowledgeController, error) {
	var svc *services.KnowledgeService

	err := f.container.Invoke(func(s *services.KnowledgeService) {
		svc = s
	})
	if err != nil {
		return nil, err
	}

	return NewKnowledgeController(svc), nil
}

// CreateHealthController 创建健康检查控制器
func (f *ControllerFactory) CreateHealthController() (*HealthController, error) {
	controller := &HealthController{}

	err := f.container.Invoke(func(s *services.KnowledgeService, h *database.HealthRegistry) {
		controller.Service = s
		controller.Dependencies = h
	})
	if err != nil {
		return nil, err
	}

	return controller, nil
}
