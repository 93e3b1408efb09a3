package entity

// Preferences 内容偏好
type Preferences struct {
	IncludeExamples           bool `json:"include_examples"`
	IncludePracticalExercises bool `json:"include_practical_exercises"`
	IncludeQuizzes            bool `json:"include_quizzes"`
}

// DefaultPreferences 默认只包含示例
func DefaultPreferences() Preferences {
	return Preferences{IncludeExamples: true}
}

// GenerationSession 一次编排运行的运行期参数，不持久化
type GenerationSession struct {
	Goal            string          `json:"goal"`
	Language        string          `json:"language"`
	ComplexityLevel DifficultyLevel `json:"complexity_level"`
	Preferences     Preferences     `json:"preferences"`
	Reasoning       string          `json:"reasoning,omitempty"`
	Provider        ModelProvider   `json:"provider"`
	Model           string          `json:"model"`
}

// SessionFromBook 由持久化的书重建会话
// prefs 为空时使用默认偏好
func SessionFromBook(b *BookProject, provider ModelProvider, model string, prefs *Preferences) GenerationSession {
	s := GenerationSession{
		Goal:            b.Goal,
		Language:        "en",
		ComplexityLevel: DifficultyIntermediate,
		Preferences:     DefaultPreferences(),
		Reasoning:       b.Reasoning,
		Provider:        provider,
		Model:           model,
	}
	if b.Roadmap != nil && b.Roadmap.DifficultyLevel != "" {
		s.ComplexityLevel = b.Roadmap.DifficultyLevel
	}
	if prefs != nil {
		s.Preferences = *prefs
	}
	return s
}
