/*
 * Copyright 2025 Loomflow Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package schema

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/config"
	"github.com/nikolalohinski/gonja/nodes"
	"github.com/nikolalohinski/gonja/parser"
	"github.com/slongfield/pyfmt"
)

// FormatType selects the template dialect used to render prompt text.
type FormatType uint8

const (
	// FString renders python-style format strings via pyfmt
	// (github.com/slongfield/pyfmt, an implementation of PEP 3101).
	FString FormatType = 0
	// GoTemplate renders text/template syntax.
	GoTemplate FormatType = 1
	// Jinja2 renders jinja2 syntax via gonja
	// (github.com/nikolalohinski/gonja). This is the engine's default:
	// llm_call prompts substitute {{input}} with the resolved input text.
	Jinja2 FormatType = 2
)

// ParseFormatType maps a node's "format" config value to a FormatType.
// Unknown or empty values fall back to Jinja2.
func ParseFormatType(s string) FormatType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fstring", "f-string":
		return FString
	case "go_template", "gotemplate":
		return GoTemplate
	default:
		return Jinja2
	}
}

// RoleType is the role of a chat message.
type RoleType string

const (
	// Assistant marks a message produced by the model.
	Assistant RoleType = "assistant"
	// User marks a user message.
	User RoleType = "user"
	// System marks a system message.
	System RoleType = "system"
)

// Message is one chat message handed to the LLM collaborator.
type Message struct {
	Role    RoleType `json:"role"`
	Content string   `json:"content"`
}

// SystemMessage represents a message with Role "system".
func SystemMessage(content string) *Message {
	return &Message{Role: System, Content: content}
}

// UserMessage represents a message with Role "user".
func UserMessage(content string) *Message {
	return &Message{Role: User, Content: content}
}

// AssistantMessage represents a message with Role "assistant".
func AssistantMessage(content string) *Message {
	return &Message{Role: Assistant, Content: content}
}

// Format renders the message content against vs and returns a copy; the
// receiver is not modified.
func (m *Message) Format(vs map[string]any, formatType FormatType) (*Message, error) {
	c, err := FormatText(m.Content, vs, formatType)
	if err != nil {
		return nil, err
	}
	copied := *m
	copied.Content = c
	return &copied, nil
}

// FormatText renders a template string against vs using the given dialect.
func FormatText(content string, vs map[string]any, formatType FormatType) (string, error) {
	switch formatType {
	case FString:
		return pyfmt.Fmt(content, vs)
	case GoTemplate:
		parsedTmpl, err := template.New("template").
			Option("missingkey=error").
			Parse(content)
		if err != nil {
			return "", err
		}
		sb := new(strings.Builder)
		err = parsedTmpl.Execute(sb, vs)
		if err != nil {
			return "", err
		}
		return sb.String(), nil
	case Jinja2:
		env, err := getJinjaEnv()
		if err != nil {
			return "", err
		}
		tpl, err := env.FromString(content)
		if err != nil {
			return "", err
		}
		out, err := tpl.Execute(vs)
		if err != nil {
			return "", err
		}
		return out, nil
	default:
		return "", fmt.Errorf("unknown format type: %v", formatType)
	}
}

// custom jinja env
var jinjaEnvOnce sync.Once
var jinjaEnv *gonja.Environment
var envInitErr error

const (
	jinjaInclude = "include"
	jinjaExtends = "extends"
	jinjaImport  = "import"
	jinjaFrom    = "from"
)

// getJinjaEnv returns a shared environment with the statements that reach
// the filesystem or other templates disabled. Prompt templates come from
// user-authored node configs, so loader-style statements must not work.
func getJinjaEnv() (*gonja.Environment, error) {
	jinjaEnvOnce.Do(func() {
		jinjaEnv = gonja.NewEnvironment(config.DefaultConfig, gonja.DefaultLoader)
		formatInitError := "init jinja env fail: %w"
		disable := func(keyword string) error {
			if !jinjaEnv.Statements.Exists(keyword) {
				return nil
			}
			return jinjaEnv.Statements.Replace(keyword, func(parser *parser.Parser, args *parser.Parser) (nodes.Statement, error) {
				return nil, fmt.Errorf("keyword[%s] has been disabled", keyword)
			})
		}
		for _, keyword := range []string{jinjaInclude, jinjaExtends, jinjaFrom, jinjaImport} {
			if err := disable(keyword); err != nil {
				envInitErr = fmt.Errorf(formatInitError, err)
				return
			}
		}
	})
	return jinjaEnv, envInitErr
}
