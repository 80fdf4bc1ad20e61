package chatcompletions

// extractor 从解析结果中取一个字段，不存在返回 false
type extractor func(body *messageBody) (string, bool)

func fromContent(body *messageBody) (string, bool) {
	return deref(body.Content)
}

func fromReasoningContent(body *messageBody) (string, bool) {
	return deref(body.ReasoningContent)
}

func fromReasoning(body *messageBody) (string, bool) {
	return deref(body.Reasoning)
}

// reasoning_content 优先于 reasoning
var reasoningExtractors = []extractor{fromReasoningContent, fromReasoning}

func deref(s *string) (string, bool) {
	if s == nil || *s == "" {
		return "", false
	}
	return *s, true
}

// firstOf 依次尝试，返回第一个命中的值
func firstOf(body *messageBody, extractors ...extractor) (string, bool) {
	if body == nil {
		return "", false
	}
	for _, ex := range extractors {
		if v, ok := ex(body); ok {
			return v, true
		}
	}
	return "", false
}

// firstChoice 取 choices[0] 中 message 或 delta
func (c *completion) firstChoice(delta bool) *messageBody {
	if len(c.Choices) == 0 {
		return nil
	}
	if delta {
		return c.Choices[0].Delta
	}
	return c.Choices[0].Message
}
