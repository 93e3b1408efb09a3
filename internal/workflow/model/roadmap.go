// Package model 定义工作流输入输出结构
package model

import "pustakam-api/internal/domain/entity"

// RoadmapPlanInput 路线图规划输入
type RoadmapPlanInput struct {
	Session    entity.GenerationSession
	MinModules int
	MaxModules int
}

// RoadmapPlanOutput 模型返回的路线图 JSON
type RoadmapPlanOutput struct {
	Title                string               `json:"title"`
	Reasoning            string               `json:"reasoning"`
	DifficultyLevel      string               `json:"difficulty_level"`
	EstimatedReadingTime string               `json:"estimated_reading_time"`
	Modules              []RoadmapModuleDraft `json:"modules"`
}

// RoadmapModuleDraft 模型返回的单个模块
type RoadmapModuleDraft struct {
	Title         string   `json:"title"`
	Objectives    []string `json:"objectives"`
	EstimatedTime string   `json:"estimated_time"`
}
