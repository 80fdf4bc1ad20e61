// Package prompts 内置提示词模板
package prompts

import _ "embed" // 嵌入提示词

// TitleSystem 标题生成的 system 提示词
//
//go:embed prompts/title_system.md
var TitleSystem string

// TitleTranscript 标题生成的对话摘录
//
//go:embed prompts/title_transcript.md
var TitleTranscript string
