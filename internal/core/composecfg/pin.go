package composecfg

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Targeted Patching (yaml.v3 document nodes)
// =============================================================================

// PinPlatform sets `platform:` on the named service, returning the patched
// definition and whether anything changed. The edit goes through the YAML
// document tree rather than text patching, so comments and the order of
// untouched keys round-trip. Pinning an already-pinned service is a no-op.
func PinPlatform(yamlContent, serviceName, platform string) (string, bool, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil {
		return "", false, &ParseError{Message: "invalid YAML syntax", Err: ErrInvalidYAML}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return "", false, &ParseError{Message: "invalid YAML syntax", Err: ErrInvalidYAML}
	}

	services := mappingValue(doc.Content[0], "services")
	if services == nil {
		return "", false, &ParseError{Field: "services", Message: "no services mapping", Err: ErrNoServices}
	}

	service := mappingValue(services, serviceName)
	if service == nil {
		return "", false, &ParseError{
			Field:   "services." + serviceName,
			Message: "service not found",
			Err:     ErrServiceNotFound,
		}
	}

	if existing := mappingValue(service, "platform"); existing != nil {
		if existing.Value == platform {
			return yamlContent, false, nil
		}
		existing.SetString(platform)
	} else {
		var key, value yaml.Node
		key.SetString("platform")
		value.SetString(platform)
		service.Content = append(service.Content, &key, &value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc.Content[0]); err != nil {
		return "", false, err
	}
	if err := enc.Close(); err != nil {
		return "", false, err
	}

	return buf.String(), true, nil
}

// mappingValue returns the value node for key inside a mapping node, or nil.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
