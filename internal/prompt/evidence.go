package prompt

import "github.com/giantswarm/lab-grader/internal/lab"

// ImageCaption is the alt text attached to image evidence ("student-submitted screenshot").
const ImageCaption = "学生提交的截图"

// RenderEvidence converts one tool's raw evidence into the fragment embedded
// in its grading block.
//
// Image evidence becomes Markdown image markup so a vision-capable grader
// can look at it; the value is not validated as a URL. Text and Markdown
// evidence is set off as a block quote so it cannot be mistaken for the
// template's own structure. Only the first line gets the "> " marker;
// later lines of multi-line evidence are left exactly as submitted. Any
// other type, including an empty one, passes through unchanged.
func RenderEvidence(raw string, evidenceType lab.EvidenceType) string {
	switch evidenceType {
	case lab.EvidenceImage:
		return "![" + ImageCaption + "](" + raw + ")"
	case lab.EvidenceMarkdown, lab.EvidenceText:
		return "> " + raw
	default:
		return raw
	}
}
