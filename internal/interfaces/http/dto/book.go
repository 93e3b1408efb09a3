package dto

import (
	"time"

	"pustakam-api/internal/application/book/orchestrator"
	"pustakam-api/internal/domain/entity"
)

// PreferencesRequest 内容偏好
type PreferencesRequest struct {
	IncludeExamples           bool `json:"include_examples"`
	IncludePracticalExercises bool `json:"include_practical_exercises"`
	IncludeQuizzes            bool `json:"include_quizzes"`
}

// ToEntity 转换为领域偏好
func (p *PreferencesRequest) ToEntity() *entity.Preferences {
	if p == nil {
		return nil
	}
	return &entity.Preferences{
		IncludeExamples:           p.IncludeExamples,
		IncludePracticalExercises: p.IncludePracticalExercises,
		IncludeQuizzes:            p.IncludeQuizzes,
	}
}

// CreateBookRequest 创建书籍并规划路线图
type CreateBookRequest struct {
	Goal        string              `json:"goal" binding:"required,max=2000"`
	Provider    string              `json:"provider,omitempty" binding:"max=32"`
	Model       string              `json:"model,omitempty" binding:"max=64"`
	Language    string              `json:"language,omitempty" binding:"max=16"`
	Preferences *PreferencesRequest `json:"preferences,omitempty"`
}

// RunRequest 启动/恢复/重试失败模块
type RunRequest struct {
	Provider    string              `json:"provider,omitempty" binding:"max=32"`
	Model       string              `json:"model,omitempty" binding:"max=64"`
	Language    string              `json:"language,omitempty" binding:"max=16"`
	Preferences *PreferencesRequest `json:"preferences,omitempty"`
}

// ToStartOptions 转换为运行参数
func (r *RunRequest) ToStartOptions() orchestrator.StartOptions {
	if r == nil {
		return orchestrator.StartOptions{}
	}
	return orchestrator.StartOptions{
		Provider:    r.Provider,
		Model:       r.Model,
		Language:    r.Language,
		Preferences: r.Preferences.ToEntity(),
	}
}

// RetryDecisionRequest 失败模块的处理决定
type RetryDecisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=retry switch skip"`
	Provider string `json:"provider,omitempty" binding:"max=32"`
	Model    string `json:"model,omitempty" binding:"max=64"`
}

// UpdateContentRequest 替换成书文本
type UpdateContentRequest struct {
	FinalBook string `json:"final_book"`
}

// UpdateStatusRequest 手动修改书状态
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// BookSummary 列表项，不含模块正文
type BookSummary struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Goal             string            `json:"goal"`
	Status           entity.BookStatus `json:"status"`
	Progress         int               `json:"progress"`
	TotalModules     int               `json:"total_modules"`
	CompletedModules int               `json:"completed_modules"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ToBookSummary 构造列表项
func ToBookSummary(b *entity.BookProject) *BookSummary {
	return &BookSummary{
		ID:               b.ID,
		Title:            b.Title,
		Goal:             b.Goal,
		Status:           b.Status,
		Progress:         b.Progress,
		TotalModules:     b.TotalModules(),
		CompletedModules: b.CompletedCount(),
		Error:            b.Error,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

// RunAccepted 运行命令已受理
type RunAccepted struct {
	BookID  string `json:"book_id"`
	Command string `json:"command"`
}
