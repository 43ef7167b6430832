package tools

import "github.com/EdibleTuber/Mother/internal/providers"

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent to the LLM
	ForUser string `json:"for_user,omitempty"` // content shown to the user
	Silent  bool   `json:"silent"`             // suppress user message
	IsError bool   `json:"is_error"`           // marks error
	Err     error  `json:"-"`                  // internal error (not serialized)

	// Images holds base64 image parts produced by tools that return visual
	// content (e.g. read on a PNG). The agent loop forwards these to the
	// model alongside ForLLM.
	Images []providers.ImageContent `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

func (r *Result) WithImage(mimeType, data string) *Result {
	r.Images = append(r.Images, providers.ImageContent{MimeType: mimeType, Data: data})
	return r
}
