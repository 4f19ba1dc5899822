package handlers

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// stripThinking drops thinkingConfig and every reasoning-block part from
// history, so a retry on the same identity doesn't repeat whatever
// signature mismatch upstream rejected.
func stripThinking(body []byte) []byte {
	if mutated, err := sjson.DeleteBytes(body, "request.generationConfig.thinkingConfig"); err == nil {
		body = mutated
	}

	contents := gjson.GetBytes(body, "request.contents").Array()
	for ci := len(contents) - 1; ci >= 0; ci-- {
		parts := contents[ci].Get("parts").Array()
		for pi := len(parts) - 1; pi >= 0; pi-- {
			part := parts[pi]
			if part.Get("thought").Bool() {
				path := partsPath(ci, pi)
				if mutated, err := sjson.DeleteBytes(body, path); err == nil {
					body = mutated
				}
				continue
			}
			if part.Get("thoughtSignature").Exists() {
				path := partsPath(ci, pi) + ".thoughtSignature"
				if mutated, err := sjson.DeleteBytes(body, path); err == nil {
					body = mutated
				}
			}
		}
	}
	return body
}

func partsPath(contentIdx, partIdx int) string {
	return "request.contents." + strconv.Itoa(contentIdx) + ".parts." + strconv.Itoa(partIdx)
}

// downgradeModelVariant removes a "-thinking" suffix from model, the
// fallback variant string used when a retry needs a non-thinking model.
func downgradeModelVariant(model string) string {
	return strings.TrimSuffix(model, "-thinking")
}

// dropTool removes one tool declaration from the envelope, preferring a
// built-in search tool (googleSearch) before a user-declared function,
// reporting whether anything was found to drop.
func dropTool(body []byte) ([]byte, bool) {
	tools := gjson.GetBytes(body, "request.tools").Array()
	for i, tool := range tools {
		if tool.Get("googleSearch").Exists() {
			mutated, err := sjson.DeleteBytes(body, "request.tools."+strconv.Itoa(i))
			if err == nil {
				return mutated, true
			}
		}
	}

	for i, tool := range tools {
		decls := tool.Get("functionDeclarations").Array()
		if len(decls) == 0 {
			continue
		}
		path := "request.tools." + strconv.Itoa(i) + ".functionDeclarations.0"
		if len(decls) == 1 {
			mutated, err := sjson.DeleteBytes(body, "request.tools."+strconv.Itoa(i))
			if err == nil {
				return mutated, true
			}
		}
		mutated, err := sjson.DeleteBytes(body, path)
		if err == nil {
			return mutated, true
		}
	}
	return body, false
}
