package prompts

import (
	"strconv"
)

// toInt 将数字或数字字符串转换为整数
func toInt(s any) int {
	switch v := s.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	case float64:
		return int(v)
	}
	return 0
}

// gt 大于比较
func gt(a, b any) bool {
	return toInt(a) > toInt(b)
}
