// Package schema sanitises JSON-Schema-shaped tool parameter trees so the
// upstream Cloud Code API accepts them. The sanitising walk is iterative,
// with an explicit stack rather than recursion. The $ref/$defs inlining
// pass that runs before it (flattenRefs) is recursive over the document.
package schema

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// stringKeywords are folded into description only when their value is a
// string. A property literally named "pattern" whose value is an object
// (not a regex) survives untouched.
var stringKeywords = []struct{ key, label string }{
	{"pattern", "pattern"},
	{"format", "format"},
}

// numericKeywords are folded into description only when their value is a
// number.
var numericKeywords = []struct{ key, label string }{
	{"minLength", "minLen"},
	{"maxLength", "maxLen"},
	{"minimum", "min"},
	{"maximum", "max"},
	{"minItems", "minItems"},
	{"maxItems", "maxItems"},
	{"exclusiveMinimum", "exclMin"},
	{"exclusiveMaximum", "exclMax"},
	{"multipleOf", "multipleOf"},
}

// unconditionalRemovals are dropped outright regardless of type, because
// the upstream never accepts these keywords in any shape. anyOf/oneOf/
// allOf are handled separately (see collapseUnion/collapseAllOf) since
// bare deletion would silently erase the branches' type information.
var unconditionalRemovals = []string{
	"$schema",
	"additionalProperties",
	"enumCaseInsensitive",
	"enumNormalizeWhitespace",
	"uniqueItems",
	"default",
	"propertyNames",
	"const",
	"not",
	"if",
	"then",
	"else",
	"patternProperties",
	"cache_control",
}

// unionKeywords pick exactly one branch out of many; allOf instead
// requires every branch to hold at once, so it merges unconditionally
// rather than choosing.
var unionKeywords = []string{"anyOf", "oneOf"}

// scalarTypes are the JSON-Schema types a union branch can collapse to
// directly, as opposed to object/array branches which need their
// properties flattened instead.
var scalarTypes = map[string]bool{
	"string": true, "number": true, "integer": true, "boolean": true, "null": true,
}

// Clean sanitises a raw JSON-Schema document in place, returning the
// cleaned JSON text. It performs $ref/$defs inlining first, then an
// iterative post-order walk applying the fold/remove/union rules.
func Clean(rawJSON []byte) ([]byte, error) {
	doc := string(rawJSON)
	if !gjson.Valid(doc) {
		return nil, fmt.Errorf("schema: invalid JSON")
	}

	doc = flattenRefs(doc)

	type frame struct {
		path     string
		visited  bool
	}
	stack := []frame{{path: ""}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		node := nodeAt(doc, top.path)

		if !top.visited {
			stack[len(stack)-1].visited = true
			for _, childPath := range childPaths(node, top.path) {
				stack = append(stack, frame{path: childPath})
			}
			continue
		}

		stack = stack[:len(stack)-1]
		doc = cleanNode(doc, top.path)
	}

	return []byte(doc), nil
}

// CleanValue is a convenience wrapper for callers holding a gjson.Result
// tree (e.g. a tool's "parameters" subtree) rather than a standalone
// document.
func CleanValue(raw gjson.Result) ([]byte, error) {
	return Clean([]byte(raw.Raw))
}

func nodeAt(doc, path string) gjson.Result {
	if path == "" {
		return gjson.Parse(doc)
	}
	return gjson.Get(doc, path)
}

// childPaths returns the gjson paths of every object/array child of node,
// prefixed with parentPath, so the walk can push them onto the explicit
// stack (post-order: children are cleaned before the node itself).
func childPaths(node gjson.Result, parentPath string) []string {
	var out []string
	if node.IsObject() {
		node.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() || value.IsArray() {
				out = append(out, joinPath(parentPath, key.String()))
			}
			return true
		})
	} else if node.IsArray() {
		i := 0
		node.ForEach(func(_, value gjson.Result) bool {
			if value.IsObject() || value.IsArray() {
				out = append(out, joinPath(parentPath, fmt.Sprintf("%d", i)))
			}
			i++
			return true
		})
	}
	return out
}

func joinPath(parent, key string) string {
	escaped := strings.ReplaceAll(key, ".", "\\.")
	if parent == "" {
		return escaped
	}
	return parent + "." + escaped
}

// cleanNode applies the fold/remove/union rules to a single object node at
// path, returning the updated document. Arrays and scalars pass through
// unchanged (the rules only apply to schema object nodes).
func cleanNode(doc, path string) string {
	node := nodeAt(doc, path)
	if !node.IsObject() {
		return doc
	}

	var constraints []string

	for _, kw := range stringKeywords {
		full := joinPath(path, kw.key)
		v := nodeAt(doc, full)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.String {
			constraints = append(constraints, fmt.Sprintf("%s: %s", kw.label, v.String()))
			doc, _ = sjson.Delete(doc, full)
		}
		// else: it's a property literally named e.g. "pattern" whose value
		// is an object — the type-validation guard leaves it untouched.
	}

	for _, kw := range numericKeywords {
		full := joinPath(path, kw.key)
		v := nodeAt(doc, full)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.Number {
			constraints = append(constraints, fmt.Sprintf("%s: %s", kw.label, v.Raw))
			doc, _ = sjson.Delete(doc, full)
		}
	}

	if len(constraints) > 0 {
		suffix := " [Validation: " + strings.Join(constraints, ", ") + "]"
		descPath := joinPath(path, "description")
		existing := nodeAt(doc, descPath).String()
		doc, _ = sjson.Set(doc, descPath, existing+suffix)
	}

	doc = collapseAllOf(doc, path)
	for _, kw := range unionKeywords {
		doc = collapseUnion(doc, path, kw)
	}

	for _, key := range unconditionalRemovals {
		full := joinPath(path, key)
		if nodeAt(doc, full).Exists() {
			doc, _ = sjson.Delete(doc, full)
		}
	}

	// $ref/$defs that survived (unresolvable) are dropped rather than
	// left dangling for the upstream to choke on.
	for _, key := range []string{"$ref", "$defs", "definitions"} {
		full := joinPath(path, key)
		if nodeAt(doc, full).Exists() {
			doc, _ = sjson.Delete(doc, full)
		}
	}

	typePath := joinPath(path, "type")
	typeNode := nodeAt(doc, typePath)
	if typeNode.IsArray() {
		selected := "string"
		for _, item := range typeNode.Array() {
			if item.String() != "null" {
				selected = item.String()
				break
			}
		}
		doc, _ = sjson.Set(doc, typePath, selected)
	}

	return doc
}

// collapseAllOf merges every allOf branch directly into node: allOf
// requires all branches to hold simultaneously, so there's no branch to
// choose between, only a union of shapes to flatten in.
func collapseAllOf(doc, path string) string {
	full := joinPath(path, "allOf")
	branches := nodeAt(doc, full)
	if !branches.Exists() || !branches.IsArray() {
		return doc
	}
	for _, branch := range branches.Array() {
		doc = mergeSchemaInto(doc, path, branch)
	}
	doc, _ = sjson.Delete(doc, full)
	return doc
}

// collapseUnion resolves the anyOf/oneOf branch list at path+"."+key:
// the first branch whose type is scalar wins outright and replaces the
// union; otherwise every branch's properties/required/type are
// flattened into node so it keeps a usable shape instead of going empty.
func collapseUnion(doc, path, key string) string {
	full := joinPath(path, key)
	branches := nodeAt(doc, full)
	if !branches.Exists() || !branches.IsArray() {
		return doc
	}
	arr := branches.Array()

	for _, branch := range arr {
		t := branch.Get("type")
		if t.Exists() && t.Type == gjson.String && scalarTypes[t.String()] {
			doc = mergeSchemaInto(doc, path, branch)
			doc, _ = sjson.Delete(doc, full)
			return doc
		}
	}

	for _, branch := range arr {
		doc = mergeSchemaInto(doc, path, branch)
	}
	typePath := joinPath(path, "type")
	if !nodeAt(doc, typePath).Exists() {
		doc, _ = sjson.Set(doc, typePath, "object")
	}
	doc, _ = sjson.Delete(doc, full)
	return doc
}

// mergeSchemaInto folds branch's shape into the node at path without
// overwriting anything node already has: properties are added key by
// key, required lists are unioned, and type/description/items/enum only
// fill in when absent.
func mergeSchemaInto(doc, path string, branch gjson.Result) string {
	if !branch.IsObject() {
		return doc
	}

	if props := branch.Get("properties"); props.Exists() && props.IsObject() {
		destPath := joinPath(path, "properties")
		props.ForEach(func(k, v gjson.Result) bool {
			destKey := joinPath(destPath, k.String())
			if !nodeAt(doc, destKey).Exists() {
				doc, _ = sjson.SetRaw(doc, destKey, v.Raw)
			}
			return true
		})
	}

	if req := branch.Get("required"); req.Exists() && req.IsArray() {
		destPath := joinPath(path, "required")
		seen := map[string]bool{}
		var merged []string
		for _, r := range nodeAt(doc, destPath).Array() {
			if !seen[r.String()] {
				merged = append(merged, r.String())
				seen[r.String()] = true
			}
		}
		for _, r := range req.Array() {
			if !seen[r.String()] {
				merged = append(merged, r.String())
				seen[r.String()] = true
			}
		}
		if len(merged) > 0 {
			doc, _ = sjson.Set(doc, destPath, merged)
		}
	}

	typePath := joinPath(path, "type")
	if t := branch.Get("type"); t.Exists() && !nodeAt(doc, typePath).Exists() {
		doc, _ = sjson.SetRaw(doc, typePath, t.Raw)
	}

	descPath := joinPath(path, "description")
	if d := branch.Get("description"); d.Exists() && d.Type == gjson.String && !nodeAt(doc, descPath).Exists() {
		doc, _ = sjson.Set(doc, descPath, d.String())
	}

	itemsPath := joinPath(path, "items")
	if items := branch.Get("items"); items.Exists() && !nodeAt(doc, itemsPath).Exists() {
		doc, _ = sjson.SetRaw(doc, itemsPath, items.Raw)
	}

	enumPath := joinPath(path, "enum")
	if enum := branch.Get("enum"); enum.Exists() && enum.IsArray() && !nodeAt(doc, enumPath).Exists() {
		doc, _ = sjson.SetRaw(doc, enumPath, enum.Raw)
	}

	return doc
}

// flattenRefs inlines top-level $defs/definitions into every $ref that
// points at them. Only one level of $defs is supported (tool schemas are
// DAGs in practice; circularly-defined refs are not resolved.
func flattenRefs(doc string) string {
	defs := gjson.Get(doc, "$defs")
	if !defs.Exists() {
		defs = gjson.Get(doc, "definitions")
	}
	if !defs.Exists() || !defs.IsObject() {
		return doc
	}

	defsMap := make(map[string]string)
	defs.ForEach(func(key, value gjson.Result) bool {
		defsMap[key.String()] = value.Raw
		return true
	})

	doc = inlineRefs(doc, defsMap, 0)
	doc, _ = sjson.Delete(doc, "$defs")
	doc, _ = sjson.Delete(doc, "definitions")
	return doc
}

func inlineRefs(doc string, defsMap map[string]string, depth int) string {
	if depth > 16 {
		return doc // guard against pathological/circular refs
	}
	ref := gjson.Get(doc, "$ref")
	if ref.Exists() {
		name := ref.String()
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		if defRaw, ok := defsMap[name]; ok {
			merged := mergeInto(doc, defRaw)
			merged, _ = sjson.Delete(merged, "$ref")
			return inlineRefs(merged, defsMap, depth+1)
		}
		doc, _ = sjson.Delete(doc, "$ref")
		return doc
	}

	parsed := gjson.Parse(doc)
	if parsed.IsObject() {
		parsed.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() || value.IsArray() {
				updated := inlineRefsValue(value.Raw, defsMap, depth)
				doc, _ = sjson.SetRaw(doc, escapeKey(key.String()), updated)
			}
			return true
		})
	}
	return doc
}

func inlineRefsValue(raw string, defsMap map[string]string, depth int) string {
	if depth > 16 {
		return raw
	}
	parsed := gjson.Parse(raw)
	if parsed.IsArray() {
		items := parsed.Array()
		out := "[]"
		for i, item := range items {
			cleaned := inlineRefsValue(item.Raw, defsMap, depth)
			out, _ = sjson.SetRaw(out, fmt.Sprintf("%d", i), cleaned)
		}
		return out
	}
	if parsed.IsObject() {
		return inlineRefs(raw, defsMap, depth)
	}
	return raw
}

func escapeKey(key string) string {
	return strings.ReplaceAll(key, ".", "\\.")
}

// mergeInto merges defRaw's object fields into doc without overwriting
// keys doc already has.
func mergeInto(doc, defRaw string) string {
	def := gjson.Parse(defRaw)
	if !def.IsObject() {
		return doc
	}
	def.ForEach(func(key, value gjson.Result) bool {
		k := escapeKey(key.String())
		if !gjson.Get(doc, k).Exists() {
			doc, _ = sjson.SetRaw(doc, k, value.Raw)
		}
		return true
	})
	return doc
}
