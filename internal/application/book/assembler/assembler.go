// Package assembler 把已完成的模块合并为最终文档
package assembler

import (
	"fmt"
	"strings"

	"pustakam-api/internal/domain/entity"
	apperrors "pustakam-api/pkg/errors"
)

const separator = "\n\n---\n\n"

// Assemble 按路线图顺序拼接模块。任一模块未完成时返回 IncompleteModules，不产生部分文档。
// 输出只取决于书的标题、路线图与模块内容。
func Assemble(book *entity.BookProject) (string, error) {
	if book == nil || !book.HasRoadmap() {
		return "", apperrors.ErrIncompleteModules.WithDetail("book has no roadmap")
	}

	var missing []string
	for _, rm := range book.Roadmap.Modules {
		if !book.IsModuleDone(rm.ID) {
			missing = append(missing, rm.ID)
		}
	}
	if len(missing) > 0 {
		return "", apperrors.ErrIncompleteModules.WithDetail(fmt.Sprintf("%d of %d modules are not completed: %s",
			len(missing), len(book.Roadmap.Modules), strings.Join(missing, ", ")))
	}

	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(strings.TrimSpace(book.Title))
	b.WriteString("\n\n## Table of Contents\n\n")
	for i, rm := range book.Roadmap.Modules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(rm.Title))
	}

	for i, rm := range book.Roadmap.Modules {
		b.WriteString(separator)
		fmt.Fprintf(&b, "## Module %d: %s\n\n", i+1, strings.TrimSpace(rm.Title))
		b.WriteString(strings.TrimSpace(book.Module(rm.ID).Content))
	}
	b.WriteString("\n")
	return b.String(), nil
}
