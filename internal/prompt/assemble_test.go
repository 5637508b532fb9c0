package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/lab-grader/internal/lab"
)

var (
	toolA = lab.Tool{
		Name:               "Shell History Check",
		ReferenceAnswer:    "vim hello.txt",
		GradingInstruction: "检查历史记录中是否有 vim 命令调用",
		StudentAnswer:      "我运行了 vim 命令",
		Evidence:           "```bash\n 102  vim hello.txt\n```",
		EvidenceType:       lab.EvidenceMarkdown,
	}
	toolB = lab.Tool{
		Name:               "File Content Verification",
		ReferenceAnswer:    "文件内容需包含: Hello Linux",
		GradingInstruction: "截图必须清晰显示文件内容",
		StudentAnswer:      "编辑完成，截图如下",
		Evidence:           "http://x/y.png",
		EvidenceType:       lab.EvidenceImage,
	}
	experiment = lab.Experiment{
		Title:   "Linux 基础命令与文本处理",
		Content: "本实验旨在掌握 Linux 文件操作命令及 Vim 编辑器的基本使用...",
	}
)

func allPlaceholdersTemplate() string {
	return strings.Join(Placeholders(), "\n")
}

func TestBuildPromptScenario(t *testing.T) {
	step := lab.Step{Index: 2, Tools: []lab.Tool{toolA, toolB}}

	got := BuildPrompt("Step {{STEP_INDEX}}/{{TOOL_COUNT}} - {{TOOLS_DATA_SECTION}}", lab.Experiment{}, step)

	want := "Step 2/2 - " + BuildToolsSection([]lab.Tool{toolA, toolB})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}

	first := strings.Index(got, "### 工具 1: Shell History Check")
	second := strings.Index(got, "### 工具 2: File Content Verification")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second)
}

func TestBuildPromptReplacesEveryPlaceholder(t *testing.T) {
	step := lab.Step{Index: 3, Title: "t", MaxScore: 20, Content: "c", Tools: []lab.Tool{toolA}}

	got := BuildPrompt(allPlaceholdersTemplate(), experiment, step)

	for _, p := range Placeholders() {
		assert.NotContains(t, got, p)
	}
}

func TestBuildPromptFullSubstitution(t *testing.T) {
	step := lab.Step{
		Index:    2,
		Title:    "Vim 编辑器实战",
		MaxScore: 15,
		Content:  "使用 Vim 创建并编辑 hello.txt",
		Tools:    []lab.Tool{toolA, toolB},
	}

	got := BuildPrompt(allPlaceholdersTemplate(), experiment, step)

	want := strings.Join([]string{
		experiment.Title,
		experiment.Content,
		"2",
		"Vim 编辑器实战",
		"15",
		"使用 Vim 创建并编辑 hello.txt",
		"2",
		BuildToolsSection(step.Tools),
	}, "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}
}

// The experiment title must survive the experiment document substitution;
// each replacement applies to the accumulated result, not the raw template.
func TestBuildPromptKeepsExperimentTitle(t *testing.T) {
	got := BuildPrompt("{{EXPERIMENT_TITLE}}|{{EXPERIMENT_DOC}}", experiment, lab.Step{})
	assert.Equal(t, experiment.Title+"|"+experiment.Content, got)
}

func TestBuildPromptReplacesAllOccurrences(t *testing.T) {
	tmpl := "{{STEP_MAX_SCORE}} / {{TOOL_COUNT}} (max {{STEP_MAX_SCORE}}, step {{STEP_INDEX}} of {{STEP_INDEX}})"
	got := BuildPrompt(tmpl, experiment, lab.Step{Index: 1, MaxScore: 20, Tools: []lab.Tool{toolA, toolB}})
	assert.Equal(t, "20 / 2 (max 20, step 1 of 1)", got)
}

func TestBuildPromptEmptyTools(t *testing.T) {
	got := BuildPrompt("count={{TOOL_COUNT}};section=[{{TOOLS_DATA_SECTION}}]", experiment, lab.Step{Index: 1})
	assert.Equal(t, "count=0;section=[]", got)
}

func TestBuildPromptMissingAndUnknownPlaceholders(t *testing.T) {
	tmpl := "{{STEP_TITLE}} {{UNKNOWN}} {{step_title}}"
	got := BuildPrompt(tmpl, experiment, lab.Step{Title: "Vim"})
	assert.Equal(t, "Vim {{UNKNOWN}} {{step_title}}", got)
}

func TestBuildPromptDoesNotRescanReplacements(t *testing.T) {
	// Values carrying placeholder tokens break the data contract; the
	// single-pass substitution still leaves them untouched.
	step := lab.Step{Title: "{{STEP_DOC}}", Content: "doc"}
	got := BuildPrompt("{{STEP_TITLE}}|{{STEP_DOC}}", experiment, step)
	assert.Equal(t, "{{STEP_DOC}}|doc", got)
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	step := lab.Step{Index: 2, MaxScore: 15, Tools: []lab.Tool{toolA, toolB}}
	want := BuildPrompt(DefaultTemplate, experiment, step)

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = BuildPrompt(DefaultTemplate, experiment, step)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, want, r)
	}
}

func TestBuildPromptDefaultTemplate(t *testing.T) {
	step := lab.Step{Index: 2, Title: "Vim 编辑器实战", MaxScore: 15, Tools: []lab.Tool{toolA, toolB}}

	got := BuildPrompt(DefaultTemplate, experiment, step)

	assert.NotContains(t, got, "{{")
	assert.Contains(t, got, "**实验名称**: Linux 基础命令与文本处理")
	assert.Contains(t, got, "你需要评判的是该实验的第 **2** 步。")
	assert.Contains(t, got, "**当前步骤满分**: 15 分")
	assert.Contains(t, got, "该步骤包含 2 个操作工具/环节")
	assert.Contains(t, got, "`单个工具满分 = 15 / 2`")
	assert.Contains(t, got, `"step_index": 2,`)
	assert.Contains(t, got, "![学生提交的截图](http://x/y.png)")
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "15", FormatScore(15))
	assert.Equal(t, "7.5", FormatScore(7.5))
	assert.Equal(t, "0", FormatScore(0))
}

func TestMissingPlaceholders(t *testing.T) {
	assert.Empty(t, MissingPlaceholders(DefaultTemplate))
	assert.Empty(t, MissingPlaceholders(allPlaceholdersTemplate()))
	assert.Equal(t, []string{PlaceholderExperimentTitle, PlaceholderExperimentDoc, PlaceholderStepTitle,
		PlaceholderStepMaxScore, PlaceholderStepDoc, PlaceholderToolsSection},
		MissingPlaceholders("Step {{STEP_INDEX}}/{{TOOL_COUNT}}"))
}

func TestLoadTemplate(t *testing.T) {
	tmpl, err := LoadTemplate("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplate, tmpl)

	file := filepath.Join(t.TempDir(), "custom.md")
	require.NoError(t, os.WriteFile(file, []byte("Step {{STEP_INDEX}}"), 0o644))
	tmpl, err = LoadTemplate(file)
	require.NoError(t, err)
	assert.Equal(t, "Step {{STEP_INDEX}}", tmpl)

	_, err = LoadTemplate(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}
