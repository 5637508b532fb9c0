package prompt

import (
	"fmt"
	"strings"

	"github.com/giantswarm/lab-grader/internal/lab"
)

// toolBlockFormat is the fixed shape of one tool's grading block. Each
// block starts and ends with a newline, so concatenated blocks need no
// separator.
const toolBlockFormat = `
### 工具 %d: %s

* **参考答案 (Standard Answer)**:
  %s

* **批改说明 (Grading Instructions)**:
  %s

* **学生提交 (Student Answer)**:
  %s

* **附加内容/证据 (Evidence/Images)**:
  %s
`

// BuildToolsSection renders every tool of a step into one section, in
// slice order. The display index is the 1-based position in tools.
// Field values are rendered as given; defaults for omitted fields are the
// decoder's job (lab.NewTool).
func BuildToolsSection(tools []lab.Tool) string {
	var b strings.Builder
	for i, tool := range tools {
		writeToolBlock(&b, i+1, tool)
	}
	return b.String()
}

func writeToolBlock(b *strings.Builder, displayIndex int, t lab.Tool) {
	fmt.Fprintf(b, toolBlockFormat,
		displayIndex,
		t.Name,
		t.ReferenceAnswer,
		t.GradingInstruction,
		t.StudentAnswer,
		RenderEvidence(t.Evidence, t.EvidenceType),
	)
}
