// Package entity 定义领域实体
package entity

import (
	"strings"
	"time"
)

// BookStatus 书籍状态
type BookStatus string

const (
	BookStatusPlanning          BookStatus = "planning"
	BookStatusGeneratingRoadmap BookStatus = "generating_roadmap"
	BookStatusRoadmapCompleted  BookStatus = "roadmap_completed"
	BookStatusGeneratingContent BookStatus = "generating_content"
	BookStatusAssembling        BookStatus = "assembling"
	BookStatusCompleted         BookStatus = "completed"
	BookStatusError             BookStatus = "error"
)

// IsValid 判断状态是否合法
func (s BookStatus) IsValid() bool {
	switch s {
	case BookStatusPlanning, BookStatusGeneratingRoadmap, BookStatusRoadmapCompleted,
		BookStatusGeneratingContent, BookStatusAssembling, BookStatusCompleted, BookStatusError:
		return true
	}
	return false
}

// IsFinalized 已进入组装阶段，不能再发起生成运行
func (s BookStatus) IsFinalized() bool {
	return s == BookStatusAssembling || s == BookStatusCompleted
}

// DifficultyLevel 难度
type DifficultyLevel string

const (
	DifficultyBeginner     DifficultyLevel = "beginner"
	DifficultyIntermediate DifficultyLevel = "intermediate"
	DifficultyAdvanced     DifficultyLevel = "advanced"
)

// ParseDifficulty 宽松解析难度，无法识别时返回 intermediate
func ParseDifficulty(s string) DifficultyLevel {
	switch DifficultyLevel(strings.ToLower(strings.TrimSpace(s))) {
	case DifficultyBeginner:
		return DifficultyBeginner
	case DifficultyAdvanced:
		return DifficultyAdvanced
	default:
		return DifficultyIntermediate
	}
}

// RoadmapModule 路线图中的一个模块（章节）
type RoadmapModule struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Objectives    []string `json:"objectives"`
	EstimatedTime string   `json:"estimated_time"`
	Order         int      `json:"order"`
}

// Roadmap 有序模块计划，创建后不可变
type Roadmap struct {
	Modules              []RoadmapModule `json:"modules"`
	TotalModules         int             `json:"total_modules"`
	EstimatedReadingTime string          `json:"estimated_reading_time"`
	DifficultyLevel      DifficultyLevel `json:"difficulty_level"`
}

// ModuleIndex 返回模块在路线图中的位置，不存在时返回 -1
func (r *Roadmap) ModuleIndex(moduleID string) int {
	if r == nil {
		return -1
	}
	for i := range r.Modules {
		if r.Modules[i].ID == moduleID {
			return i
		}
	}
	return -1
}

// ModuleStatus 模块生成状态
type ModuleStatus string

const (
	ModuleStatusPending    ModuleStatus = "pending"
	ModuleStatusGenerating ModuleStatus = "generating"
	ModuleStatusCompleted  ModuleStatus = "completed"
	ModuleStatusError      ModuleStatus = "error"
)

// GeneratedModule 已尝试生成的模块
type GeneratedModule struct {
	RoadmapModuleID string       `json:"roadmap_module_id"`
	Title           string       `json:"title"`
	Status          ModuleStatus `json:"status"`
	Content         string       `json:"content,omitempty"`
	WordCount       int          `json:"word_count"`
	// Attempts 已结束（成功或失败）的调用次数
	Attempts int `json:"attempts"`
	// FailedAttempts 自上次成功以来的连续失败次数
	FailedAttempts int        `json:"failed_attempts"`
	DurationMs     int64      `json:"duration_ms,omitempty"`
	Provider       string     `json:"provider,omitempty"`
	Model          string     `json:"model,omitempty"`
	Error          string     `json:"error,omitempty"`
	GeneratedAt    *time.Time `json:"generated_at,omitempty"`
}

// IsDone 模块完成且内容非空
func (m *GeneratedModule) IsDone() bool {
	return m != nil && m.Status == ModuleStatusCompleted && strings.TrimSpace(m.Content) != ""
}

// BookProject 一本正在生成的书
type BookProject struct {
	ID        string             `json:"id"`
	Goal      string             `json:"goal"`
	Title     string             `json:"title"`
	Reasoning string             `json:"reasoning,omitempty"`
	Status    BookStatus         `json:"status"`
	Roadmap   *Roadmap           `json:"roadmap,omitempty"`
	Modules   []*GeneratedModule `json:"modules"`
	FinalBook string             `json:"final_book,omitempty"`
	Progress  int                `json:"progress"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewBookProject 创建新书
func NewBookProject(id, goal string, now time.Time) *BookProject {
	return &BookProject{
		ID:        id,
		Goal:      strings.TrimSpace(goal),
		Title:     deriveTitle(goal),
		Status:    BookStatusPlanning,
		Modules:   []*GeneratedModule{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// deriveTitle 规划完成前用目标的前若干字作为临时标题
func deriveTitle(goal string) string {
	goal = strings.TrimSpace(goal)
	runes := []rune(goal)
	if len(runes) > 80 {
		return strings.TrimSpace(string(runes[:80])) + "..."
	}
	return goal
}

// Touch 刷新更新时间
func (b *BookProject) Touch(now time.Time) {
	b.UpdatedAt = now
}

// HasRoadmap 是否已有可生成的路线图
func (b *BookProject) HasRoadmap() bool {
	return b.Roadmap != nil && len(b.Roadmap.Modules) > 0
}

// SetRoadmap 写入路线图（只允许一次）
func (b *BookProject) SetRoadmap(r *Roadmap, title string, now time.Time) bool {
	if b.Roadmap != nil || r == nil {
		return false
	}
	r.TotalModules = len(r.Modules)
	b.Roadmap = r
	if t := strings.TrimSpace(title); t != "" {
		b.Title = t
	}
	b.Status = BookStatusRoadmapCompleted
	b.Error = ""
	b.Touch(now)
	return true
}

// Module 按路线图模块 ID 查找生成记录
func (b *BookProject) Module(moduleID string) *GeneratedModule {
	for _, m := range b.Modules {
		if m != nil && m.RoadmapModuleID == moduleID {
			return m
		}
	}
	return nil
}

// ensureModule 获取或按路线图顺序插入生成记录
func (b *BookProject) ensureModule(rm RoadmapModule) *GeneratedModule {
	if m := b.Module(rm.ID); m != nil {
		return m
	}
	m := &GeneratedModule{RoadmapModuleID: rm.ID, Title: rm.Title, Status: ModuleStatusPending}
	pos := b.Roadmap.ModuleIndex(rm.ID)
	at := len(b.Modules)
	for i, existing := range b.Modules {
		if b.Roadmap.ModuleIndex(existing.RoadmapModuleID) > pos {
			at = i
			break
		}
	}
	b.Modules = append(b.Modules, nil)
	copy(b.Modules[at+1:], b.Modules[at:])
	b.Modules[at] = m
	return m
}

// RecordSuccess 记录模块生成成功，重置连续失败计数
func (b *BookProject) RecordSuccess(rm RoadmapModule, content string, duration time.Duration, provider, model string, now time.Time) *GeneratedModule {
	m := b.ensureModule(rm)
	m.Status = ModuleStatusCompleted
	m.Content = content
	m.WordCount = CountWords(content)
	m.Attempts++
	m.FailedAttempts = 0
	m.DurationMs = duration.Milliseconds()
	m.Provider = provider
	m.Model = model
	m.Error = ""
	at := now
	m.GeneratedAt = &at
	b.RecomputeProgress()
	b.Touch(now)
	return m
}

// RecordFailure 记录模块失败，内容保持为上一次的状态
func (b *BookProject) RecordFailure(rm RoadmapModule, errMsg string, provider, model string, now time.Time) *GeneratedModule {
	m := b.ensureModule(rm)
	if m.Status != ModuleStatusCompleted {
		m.Status = ModuleStatusError
	}
	m.Attempts++
	m.FailedAttempts++
	m.Provider = provider
	m.Model = model
	m.Error = errMsg
	b.RecomputeProgress()
	b.Touch(now)
	return m
}

// MarkSkipped 跳过模块，状态置为 error
func (b *BookProject) MarkSkipped(rm RoadmapModule, reason string, now time.Time) *GeneratedModule {
	m := b.ensureModule(rm)
	m.Status = ModuleStatusError
	if reason != "" {
		m.Error = reason
	}
	b.RecomputeProgress()
	b.Touch(now)
	return m
}

// IsModuleDone 判断路线图模块是否已完成
func (b *BookProject) IsModuleDone(moduleID string) bool {
	return b.Module(moduleID).IsDone()
}

// CompletedCount 已完成模块数
func (b *BookProject) CompletedCount() int {
	n := 0
	for _, m := range b.Modules {
		if m.IsDone() {
			n++
		}
	}
	return n
}

// FailedCount 失败模块数
func (b *BookProject) FailedCount() int {
	n := 0
	for _, m := range b.Modules {
		if m != nil && m.Status == ModuleStatusError {
			n++
		}
	}
	return n
}

// TotalModules 路线图模块总数
func (b *BookProject) TotalModules() int {
	if b.Roadmap == nil {
		return 0
	}
	return len(b.Roadmap.Modules)
}

// AllModulesDone 路线图中的每个模块都已完成
func (b *BookProject) AllModulesDone() bool {
	if !b.HasRoadmap() {
		return false
	}
	for _, rm := range b.Roadmap.Modules {
		if !b.IsModuleDone(rm.ID) {
			return false
		}
	}
	return true
}

// RecomputeProgress 由模块集合重新计算进度
func (b *BookProject) RecomputeProgress() int {
	total := b.TotalModules()
	if total == 0 {
		b.Progress = 0
		return 0
	}
	b.Progress = b.CompletedCount() * 100 / total
	return b.Progress
}

// TotalWords 已完成模块的总字数
func (b *BookProject) TotalWords() int {
	n := 0
	for _, m := range b.Modules {
		if m.IsDone() {
			n += m.WordCount
		}
	}
	return n
}

// CountWords 按空白切分统计词数
func CountWords(text string) int {
	return len(strings.Fields(text))
}
