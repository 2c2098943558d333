package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// schemaSet — скомпилированные схемы параметров по имени действия.
type schemaSet map[string]*jsonschema.Schema

// mustCompileSchemas компилирует встроенные схемы. Ошибка тут — ошибка программиста.
func mustCompileSchemas(raw map[string]string) schemaSet {
	set := make(schemaSet, len(raw))
	for action, src := range raw {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", action, err))
		}
		c := jsonschema.NewCompiler()
		url := action + ".json"
		if err := c.AddResource(url, doc); err != nil {
			panic(fmt.Sprintf("schema %s: %v", action, err))
		}
		s, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", action, err))
		}
		set[action] = s
	}
	return set
}

// validate проверяет параметры действия, если для него объявлена схема.
func (s schemaSet) validate(action string, params map[string]interface{}) error {
	schema, ok := s[action]
	if !ok {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	// Через JSON, чтобы Go-типы (int, []map) свести к тому, что понимает валидатор
	data, err := json.Marshal(params)
	if err != nil {
		return &domain.ValidationError{Message: err.Error()}
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &domain.ValidationError{Message: err.Error()}
	}
	if err := schema.Validate(doc); err != nil {
		return &domain.ValidationError{Field: action, Message: strings.ReplaceAll(err.Error(), "\n", "; ")}
	}
	return nil
}
