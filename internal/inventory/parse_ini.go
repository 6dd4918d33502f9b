package inventory

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// ParseINI reads the classic group-sections-with-host-lines format:
//
//	[web]
//	host1 ansible_user=deploy
//	host2
//
//	[web:vars]
//	http_port=8080
//
//	[web:children]
//	web_east
func ParseINI(r io.Reader) (*Inventory, error) {
	inv := New()
	scanner := bufio.NewScanner(r)

	currentGroup := ""
	currentKind := "hosts" // hosts | vars | children

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			if idx := strings.LastIndex(section, ":"); idx >= 0 {
				currentGroup = section[:idx]
				currentKind = section[idx+1:]
			} else {
				currentGroup = section
				currentKind = "hosts"
			}
			inv.group(currentGroup)
			continue
		}

		if currentGroup == "" {
			currentGroup = "ungrouped"
		}

		switch currentKind {
		case "vars":
			k, v := parseINIAssignment(line)
			if k != "" {
				inv.SetGroupVars(currentGroup, map[string]any{k: v})
			}
		case "children":
			inv.AddChildGroup(currentGroup, line)
		default:
			fields := strings.Fields(line)
			hostName := fields[0]
			vars := map[string]any{}
			for _, kv := range fields[1:] {
				k, v := parseINIAssignment(kv)
				if k != "" {
					vars[k] = v
				}
			}
			inv.AddHost(hostName, vars)
			if currentGroup != "ungrouped" {
				inv.AddToGroup(currentGroup, hostName)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return inv, nil
}

func parseINIAssignment(s string) (string, any) {
	idx := strings.Index(s, "=")
	if idx < 0 {
		return "", nil
	}
	key := strings.TrimSpace(s[:idx])
	raw := strings.Trim(strings.TrimSpace(s[idx+1:]), `"'`)
	return key, coerceINIValue(raw)
}

func coerceINIValue(raw string) any {
	if raw == "true" || raw == "false" {
		b, _ := strconv.ParseBool(raw)
		return b
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
