package prompts

import (
	"text/template"
)

// TitleSystemTemplate 标题 system 模板
var TitleSystemTemplate *template.Template

// TitleTranscriptTemplate 标题对话摘录模板
var TitleTranscriptTemplate *template.Template

// TitleMessage 摘录中的一条消息
type TitleMessage struct {
	Role    string
	Content string
}

// TitleSystemData 标题 system 模板参数
type TitleSystemData struct {
	MaxLength int
}

// TitleTranscriptData 对话摘录模板参数
type TitleTranscriptData struct {
	Messages []TitleMessage
}

func init() {
	// 创建函数映射
	funcMap := template.FuncMap{
		"toInt": toInt,
		"gt":    gt,
	}

	TitleSystemTemplate = template.Must(template.New("TitleSystem").Funcs(funcMap).Parse(TitleSystem))
	TitleTranscriptTemplate = template.Must(template.New("TitleTranscript").Funcs(funcMap).Parse(TitleTranscript))
}
