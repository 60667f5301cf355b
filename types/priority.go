package types

import "fmt"

// Priority 表示请求或缓存条目的相对优先级。
// 只影响排序：批处理器按它挑选下一批请求，
// 缓存按它挑选淘汰候选。不会抢占已派发的批次。
type Priority int8

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// Valid 报告优先级是否为已定义的三个级别之一。
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

// String 返回优先级的字符串表示。
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int8(p))
	}
}

// ParsePriority 解析字符串形式的优先级（low | normal | high）。
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalText 实现 encoding.TextMarshaler，序列化为 low/normal/high。
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
