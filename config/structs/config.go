// Package structs 配置结构
package structs

// 接口模式
const (
	APIModeChatCompletions = "chat_completions"
	APIModeResponses       = "responses"
)

// ProviderConfig 模型提供者配置
type ProviderConfig struct {
	BaseURL         string  `json:"base_url" yaml:"base_url" toml:"base_url" default:"https://api.openai.com" validate:"required,url"`
	APIMode         string  `json:"api_mode" yaml:"api_mode" toml:"api_mode" default:"responses" validate:"oneof=chat_completions responses"`
	Model           string  `json:"model" yaml:"model" toml:"model" default:"gpt-5.2" validate:"required"`
	Temperature     float64 `json:"temperature" yaml:"temperature" toml:"temperature" default:"0.7" validate:"gte=0,lte=2"`
	MaxTokens       int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens" default:"1024" validate:"gte=0"` // 0 代表不限制
	Stream          bool    `json:"stream" yaml:"stream" toml:"stream" default:"true"`
	ReasoningEffort string  `json:"reasoning_effort" yaml:"reasoning_effort" toml:"reasoning_effort" default:"off" validate:"oneof=off low medium high"`
	TimeoutSeconds  int     `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds" default:"120" validate:"gt=0"`
}

// ChatConfig 对话配置
type ChatConfig struct {
	SystemPrompt          string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt" default:""`
	ContextLimit          int    `json:"context_limit" yaml:"context_limit" toml:"context_limit" default:"0" validate:"gte=0"` // 保留的非 system 消息数，0 代表不限制
	MinThinkingMillis     int    `json:"min_thinking_millis" yaml:"min_thinking_millis" toml:"min_thinking_millis" default:"600" validate:"gte=0"`
	AutoTitle             bool   `json:"auto_title" yaml:"auto_title" toml:"auto_title" default:"true"`
	DraftUpdatesPerSecond int    `json:"draft_updates_per_second" yaml:"draft_updates_per_second" toml:"draft_updates_per_second" default:"30" validate:"gte=0"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Path string `json:"path" yaml:"path" toml:"path" default:"~/.config/pixia/pixia.sqlite" validate:"required"`
}

// SecretsConfig 密钥来源配置
type SecretsConfig struct {
	EnvFile string `json:"env_file" yaml:"env_file" toml:"env_file" default:"~/.config/pixia/.env"`
	Dir     string `json:"dir" yaml:"dir" toml:"dir" default:""` // 每个密钥一个文件
}

// Config 根配置
type Config struct {
	Version  int32          `json:"version" yaml:"version" toml:"version"`
	Provider ProviderConfig `json:"provider" yaml:"provider" toml:"provider"`
	Chat     ChatConfig     `json:"chat" yaml:"chat" toml:"chat"`
	Storage  StorageConfig  `json:"storage" yaml:"storage" toml:"storage"`
	Secrets  SecretsConfig  `json:"secrets" yaml:"secrets" toml:"secrets"`
}

// MaxTokensPtr 返回请求使用的 max tokens，0 为 nil
func (p ProviderConfig) MaxTokensPtr() *int {
	if p.MaxTokens <= 0 {
		return nil
	}
	v := p.MaxTokens
	return &v
}
