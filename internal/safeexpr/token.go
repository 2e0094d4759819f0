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

package safeexpr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokInt
	tokFloat
	tokString
	tokName

	tokLParen
	tokRParen
	tokComma

	tokPlus
	tokMinus
	tokStar
	tokDoubleStar
	tokSlash
	tokDoubleSlash
	tokPercent

	tokAmp
	tokPipe
	tokCaret
	tokTilde
	tokLShift
	tokRShift

	tokLT
	tokLE
	tokGT
	tokGE
	tokEQ
	tokNE

	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	ival int64
	fval float64
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q", t.text)
}

// lex splits an expression into tokens. Anything outside the restricted
// grammar (attribute access dots, subscripts, assignment, semicolons)
// produces an error here, before any evaluation happens.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]

		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			i++
			continue
		}

		switch c {
		case '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
			continue
		case ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
			continue
		case ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
			continue
		case '+':
			toks = append(toks, token{kind: tokPlus, text: "+", pos: i})
			i++
			continue
		case '-':
			toks = append(toks, token{kind: tokMinus, text: "-", pos: i})
			i++
			continue
		case '~':
			toks = append(toks, token{kind: tokTilde, text: "~", pos: i})
			i++
			continue
		case '%':
			toks = append(toks, token{kind: tokPercent, text: "%", pos: i})
			i++
			continue
		case '&':
			toks = append(toks, token{kind: tokAmp, text: "&", pos: i})
			i++
			continue
		case '|':
			toks = append(toks, token{kind: tokPipe, text: "|", pos: i})
			i++
			continue
		case '^':
			toks = append(toks, token{kind: tokCaret, text: "^", pos: i})
			i++
			continue
		case '*':
			if i+1 < len(src) && src[i+1] == '*' {
				toks = append(toks, token{kind: tokDoubleStar, text: "**", pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokStar, text: "*", pos: i})
				i++
			}
			continue
		case '/':
			if i+1 < len(src) && src[i+1] == '/' {
				toks = append(toks, token{kind: tokDoubleSlash, text: "//", pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokSlash, text: "/", pos: i})
				i++
			}
			continue
		case '<':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{kind: tokLE, text: "<=", pos: i})
				i += 2
			} else if i+1 < len(src) && src[i+1] == '<' {
				toks = append(toks, token{kind: tokLShift, text: "<<", pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokLT, text: "<", pos: i})
				i++
			}
			continue
		case '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{kind: tokGE, text: ">=", pos: i})
				i += 2
			} else if i+1 < len(src) && src[i+1] == '>' {
				toks = append(toks, token{kind: tokRShift, text: ">>", pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokGT, text: ">", pos: i})
				i++
			}
			continue
		case '=':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{kind: tokEQ, text: "==", pos: i})
				i += 2
				continue
			}
			return nil, fmt.Errorf("assignment is not allowed at position %d", i)
		case '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{kind: tokNE, text: "!=", pos: i})
				i += 2
				continue
			}
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		case '\'', '"':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i = next
			continue
		}

		if c >= '0' && c <= '9' || (c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9') {
			tok, next, err := lexNumber(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = next
			continue
		}

		if isNameStart(rune(c)) {
			j := i + 1
			for j < len(src) && isNamePart(rune(src[j])) {
				j++
			}
			word := src[i:j]
			switch word {
			case "and":
				toks = append(toks, token{kind: tokAnd, text: word, pos: i})
			case "or":
				toks = append(toks, token{kind: tokOr, text: word, pos: i})
			case "not":
				toks = append(toks, token{kind: tokNot, text: word, pos: i})
			default:
				toks = append(toks, token{kind: tokName, text: word, pos: i})
			}
			i = j
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
	}

	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var sb strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == quote {
			return sb.String(), i + 1, nil
		}
		if c == '\\' {
			if i+1 >= len(src) {
				break
			}
			i++
			switch src[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\', '\'', '"':
				sb.WriteByte(src[i])
			default:
				sb.WriteByte('\\')
				sb.WriteByte(src[i])
			}
			i++
			continue
		}
		sb.WriteByte(c)
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func lexNumber(src string, start int) (token, int, error) {
	i := start
	isFloat := false
	for i < len(src) {
		c := src[i]
		if c >= '0' && c <= '9' {
			i++
			continue
		}
		if c == '.' && !isFloat {
			isFloat = true
			i++
			continue
		}
		if (c == 'e' || c == 'E') && i > start {
			isFloat = true
			i++
			if i < len(src) && (src[i] == '+' || src[i] == '-') {
				i++
			}
			continue
		}
		break
	}
	text := src[start:i]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, 0, fmt.Errorf("bad number %q at position %d", text, start)
		}
		return token{kind: tokFloat, text: text, fval: f, pos: start}, i, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return token{}, 0, fmt.Errorf("bad number %q at position %d", text, start)
	}
	return token{kind: tokInt, text: text, ival: n, pos: start}, i, nil
}

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNamePart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
