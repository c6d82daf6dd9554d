package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 参数空间覆盖的 JSON Schema，提交搜索任务时用于校验外部输入。
const spaceSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": {
    "type": "object",
    "properties": {
      "min":  {"type": "number"},
      "max":  {"type": "number"},
      "step": {"type": "number", "exclusiveMinimum": 0},
      "type": {"enum": ["int", "float", "categorical"]},
      "options": {"type": "array", "items": {"type": "string"}, "minItems": 1}
    },
    "required": ["type"],
    "additionalProperties": false
  }
}`

var spaceSchema = jsonschema.MustCompileString("space.json", spaceSchemaJSON)

// ParseSpaceOverride 校验并解析外部提交的参数空间覆盖。
func ParseSpaceOverride(raw []byte) (Space, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("strategy: space override is not valid JSON: %w", err)
	}
	if err := spaceSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("strategy: space override rejected: %w", err)
	}
	var space Space
	if err := json.Unmarshal(raw, &space); err != nil {
		return nil, err
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	return space, nil
}

// MergeSpace 用覆盖项替换基础空间中的同名参数，未覆盖的保持不变。
// 覆盖中出现基础空间没有的参数名视为错误。
func MergeSpace(base, override Space) (Space, error) {
	if len(override) == 0 {
		return base, nil
	}
	merged := make(Space, len(base))
	for name, r := range base {
		merged[name] = r
	}
	for name, r := range override {
		if _, ok := base[name]; !ok {
			return nil, fmt.Errorf("strategy: override names unknown parameter %q", name)
		}
		merged[name] = r
	}
	return merged, nil
}
