package model

import "pustakam-api/internal/domain/entity"

// ModuleGenerateInput 单模块生成输入
type ModuleGenerateInput struct {
	BookTitle    string
	Session      entity.GenerationSession
	Module       entity.RoadmapModule
	ModuleNumber int
	TotalModules int
	// PriorContext 前序模块摘录，未启用时为空
	PriorContext string
	Temperature  *float32
	MaxTokens    *int
}
